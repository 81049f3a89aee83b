//go:build windows

package singleinstance

import (
	"golang.org/x/sys/windows"
)

type windowsLock struct {
	handle windows.Handle
}

func (l *windowsLock) Release() {
	windows.CloseHandle(l.handle)
}

// acquire calls CreateMutex and inspects ERROR_ALREADY_EXISTS to tell a
// fresh acquisition from a contended one: CreateMutex succeeds either way,
// handing back a handle to the existing mutex if one is already held.
func acquire(name string) (Lock, bool, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, false, err
	}
	handle, err := windows.CreateMutex(nil, false, namePtr)
	if err != nil && err != windows.ERROR_ALREADY_EXISTS {
		return nil, false, err
	}
	if err == windows.ERROR_ALREADY_EXISTS {
		windows.CloseHandle(handle)
		return nil, false, nil
	}
	return &windowsLock{handle: handle}, true, nil
}
