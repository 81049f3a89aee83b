// Package singleinstance enforces the one-process-instance-only rule from
// spec §6: on launch, acquire a named system-global mutex; if it's already
// owned, the caller should log and exit nonzero rather than run a second
// copy of the widget.
package singleinstance

// MutexName is the well-known name spec §6 gives as an example.
const MutexName = "NetSpeedTray_SingleInstance"

// Lock is a held instance lock; Release gives it up (normally only called
// right before process exit, via defer in main).
type Lock interface {
	Release()
}

// Acquire tries to take the named system-global mutex. ok is false if
// another instance already holds it; the caller should log and exit
// nonzero in that case rather than treat it as a fatal error.
func Acquire(name string) (lock Lock, ok bool, err error) {
	return acquire(name)
}
