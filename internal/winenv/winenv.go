// Package winenv reads the Windows shell theme/accent registry values and
// toggles the per-user "run at startup" registry entry (spec §6). Both are
// thin registry reads/writes with no state machine of their own, unlike
// the taskbar integrator's refresh loop.
package winenv

// Theme is the shell light/dark + accent color snapshot read from the
// registry (spec §6: AppsUseLightTheme, SystemUsesLightTheme,
// ColorizationColor).
type Theme struct {
	AppsUseLightTheme   bool
	SystemUsesLightTheme bool
	ColorizationColor   uint32
}

// ReadTheme reads the current theme/accent values from HKCU. Platform
// implementation in winenv_windows.go; the non-Windows stub returns a
// zero-value Theme and a descriptive error.
func ReadTheme() (Theme, error) {
	return readTheme()
}

// SetStartup writes (enabled) or deletes (disabled) the per-user Run key
// entry that launches the widget at login, per spec §6.
func SetStartup(appName, exePath string, enabled bool) error {
	return setStartup(appName, exePath, enabled)
}

// IsStartupEnabled reports whether the Run key entry is currently present.
func IsStartupEnabled(appName string) (bool, error) {
	return isStartupEnabled(appName)
}
