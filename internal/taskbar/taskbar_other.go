//go:build !windows

package taskbar

import "fmt"

// noopWindowSystem is the non-Windows stand-in, mirroring the sampler's
// *_other.go stub convention: the module still builds and tests off
// Windows, but every call fails or no-ops since there is no taskbar to
// integrate with.
type noopWindowSystem struct{}

// NewWindowSystem exists on every platform so callers don't need a build
// tag of their own.
func NewWindowSystem(widgetHWND uintptr) WindowSystem {
	return &noopWindowSystem{}
}

func (noopWindowSystem) QueryTaskbar() (TaskbarInfo, error) {
	return TaskbarInfo{}, fmt.Errorf("taskbar integration is only implemented on windows")
}

func (noopWindowSystem) ForegroundObstructs(taskbarHWND, widgetHWND uintptr) (bool, error) {
	return false, nil
}

func (noopWindowSystem) SetWidgetPosition(x, y int) error { return nil }
func (noopWindowSystem) SetWidgetVisible(visible bool) error { return nil }
func (noopWindowSystem) SetWidgetTopmost() error             { return nil }

func (noopWindowSystem) ScreenContaining(x, y int) (Rect, error) {
	return Rect{}, fmt.Errorf("taskbar integration is only implemented on windows")
}

func (noopWindowSystem) TeardownHooks()      {}
func (noopWindowSystem) InstallHooks() error { return nil }
