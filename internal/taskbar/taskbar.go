// Package taskbar implements the Taskbar Integrator (spec §4.4): it
// tracks the taskbar handle, edge and DPI scale, positions the widget,
// enforces topmost Z-order, hides the widget under fullscreen obstruction,
// and recovers from explorer.exe (shell) restarts. The platform-specific
// Win32 queries live in taskbar_windows.go; every other OS gets a stub
// (taskbar_other.go) since the widget is Windows-only.
package taskbar

import (
	"math"
	"sync"
	"time"
)

// Edge names which side of the screen the taskbar is docked to.
type Edge int

const (
	EdgeUnknown Edge = iota
	EdgeTop
	EdgeBottom
	EdgeLeft
	EdgeRight
)

func (e Edge) horizontal() bool { return e == EdgeTop || e == EdgeBottom }

// Rect is a physical-pixel rectangle, as returned by Win32 GetWindowRect.
type Rect struct {
	Left, Top, Right, Bottom int
}

func (r Rect) Width() int  { return r.Right - r.Left }
func (r Rect) Height() int { return r.Bottom - r.Top }

// TaskbarInfo is derived fresh every refresh tick; never cached beyond
// one tick (spec §3).
type TaskbarInfo struct {
	HWND             uintptr
	RectPhys         Rect
	TrayRectPhys     *Rect
	TasklistRectPhys *Rect
	DPIScale         float64
	Edge             Edge
}

// WidgetState is the Integrator's mutable view of the widget.
type WidgetState struct {
	PosX, PosY       int
	Width, Height    int
	Visible          bool
	Dragging         bool
	FreeMove         bool
	Paused           bool
	TaskbarLostCount uint32
	ContextMenuOpen  bool
}

// WindowSystem is everything the Integrator needs from the OS. The real
// implementation (taskbar_windows.go) wraps user32 calls;
// tests substitute a fake.
type WindowSystem interface {
	QueryTaskbar() (TaskbarInfo, error)
	ForegroundObstructs(taskbarHWND, widgetHWND uintptr) (bool, error)
	SetWidgetPosition(x, y int) error
	SetWidgetVisible(visible bool) error
	SetWidgetTopmost() error
	ScreenContaining(x, y int) (Rect, error)
	TeardownHooks()
	InstallHooks() error
}

// Logger is the minimal structured-logging surface the integrator needs.
type Logger interface {
	Warn(msg string, attrs map[string]any)
	Error(msg string, attrs map[string]any)
}

// Metrics is the subset of metrics.Registry the integrator publishes
// lost-taskbar and refresh counts to. A nil Metrics is fine: every call
// site checks before using it, the same way a nil Logger is tolerated.
type Metrics interface {
	SetTaskbarLostCount(n int)
	IncTaskbarRefresh()
}

const (
	// taskbarLostFallbackThreshold is the consecutive-failure count after
	// which the widget falls back to a safe screen-corner position
	// instead of continuing to try positioning against a dead taskbar
	// (spec §4.4 step 2).
	taskbarLostFallbackThreshold = 30

	// fullscreenReshowDebounce governs re-show after an obstruction
	// clears; hiding on obstruction itself is immediate (spec §4.4.3).
	fullscreenReshowDebounce = 250 * time.Millisecond
)

// Integrator drives execute_refresh and owns the widget state machine.
type Integrator struct {
	ws      WindowSystem
	logger  Logger
	metrics Metrics

	mu    sync.Mutex
	state WidgetState

	widgetHWND uintptr

	trayOffsetX, trayOffsetY float64
	posX, posY               float64
	keepVisibleFullscreen    bool

	obstructed          bool
	obstructionClearAt  time.Time
	onPositionPersisted func(freeMove bool, x, y int)
}

// New constructs an Integrator. widgetHWND identifies the widget's own
// window so ForegroundObstructs never reports the widget hiding itself.
// metrics may be nil.
func New(ws WindowSystem, logger Logger, metrics Metrics, widgetHWND uintptr, keepVisibleFullscreen bool) *Integrator {
	return &Integrator{
		ws:                    ws,
		logger:                logger,
		metrics:               metrics,
		widgetHWND:            widgetHWND,
		keepVisibleFullscreen: keepVisibleFullscreen,
	}
}

// SetOnPositionPersisted registers a callback invoked whenever a drag
// release determines a new position/offset to save to config.
func (in *Integrator) SetOnPositionPersisted(fn func(freeMove bool, x, y int)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onPositionPersisted = fn
}

// SetKeepVisibleFullscreen updates the fullscreen-visibility override
// live (a settings-change handler calls this).
func (in *Integrator) SetKeepVisibleFullscreen(v bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.keepVisibleFullscreen = v
}

// State returns a copy of the current widget state.
func (in *Integrator) State() WidgetState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// SetContextMenuOpen and SetDragging gate execute_refresh per step 1.
func (in *Integrator) SetContextMenuOpen(open bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.state.ContextMenuOpen = open
}

func (in *Integrator) SetDragging(dragging bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.state.Dragging = dragging
}

// ExecuteRefresh is the single authoritative routine driving visibility
// and position, invoked by the safety-net timer, foreground-window
// change events, taskbar move/size events, and shell-restart recovery
// (spec §4.4). It is atomic with respect to itself: callers must not
// invoke it concurrently (the caller serializes these triggers onto one
// goroutine, typically the UI thread).
func (in *Integrator) ExecuteRefresh() {
	in.mu.Lock()
	if in.state.ContextMenuOpen || in.state.Dragging {
		in.mu.Unlock()
		return
	}
	keepVisibleFullscreen := in.keepVisibleFullscreen
	in.mu.Unlock()

	if in.metrics != nil {
		in.metrics.IncTaskbarRefresh()
	}

	info, err := in.ws.QueryTaskbar()
	if err != nil || info.HWND == 0 {
		in.mu.Lock()
		in.state.TaskbarLostCount++
		lost := in.state.TaskbarLostCount
		in.mu.Unlock()
		if in.logger != nil {
			in.logger.Warn("taskbar unreachable", map[string]any{"consecutive_failures": lost})
		}
		if in.metrics != nil {
			in.metrics.SetTaskbarLostCount(int(lost))
		}
		if lost >= taskbarLostFallbackThreshold {
			in.fallbackToSafeCorner()
		}
		return
	}
	in.mu.Lock()
	in.state.TaskbarLostCount = 0
	in.mu.Unlock()
	if in.metrics != nil {
		in.metrics.SetTaskbarLostCount(0)
	}

	obstructed, err := in.ws.ForegroundObstructs(info.HWND, in.widgetHWND)
	if err != nil {
		obstructed = false
	}

	shouldBeVisible := !obstructed || keepVisibleFullscreen
	in.handleObstructionTransition(obstructed, shouldBeVisible)
}

func (in *Integrator) handleObstructionTransition(obstructed, shouldBeVisible bool) {
	in.mu.Lock()
	wasVisible := in.state.Visible
	in.mu.Unlock()

	if obstructed && wasVisible && !shouldBeVisible {
		// Immediate hide, no debounce (spec §4.4.3).
		in.setVisible(false)
		in.mu.Lock()
		in.obstructed = true
		in.mu.Unlock()
		return
	}

	in.mu.Lock()
	wasObstructed := in.obstructed
	in.obstructed = obstructed
	in.mu.Unlock()

	if wasObstructed && !obstructed {
		in.mu.Lock()
		in.obstructionClearAt = time.Now().Add(fullscreenReshowDebounce)
		in.mu.Unlock()
	}

	if shouldBeVisible != wasVisible {
		if shouldBeVisible && wasObstructed {
			in.mu.Lock()
			clearAt := in.obstructionClearAt
			in.mu.Unlock()
			if time.Now().Before(clearAt) {
				return // still inside the debounce window
			}
		}
		in.setVisible(shouldBeVisible)
	}

	if shouldBeVisible {
		in.repositionAndRaise()
	}
}

func (in *Integrator) repositionAndRaise() {
	in.mu.Lock()
	freeMove := in.state.FreeMove
	width, height := float64(in.state.Width), float64(in.state.Height)
	trayOffsetX, trayOffsetY := in.trayOffsetX, in.trayOffsetY
	in.mu.Unlock()

	if !freeMove {
		info, err := in.ws.QueryTaskbar()
		if err == nil && info.HWND != 0 {
			x, y := ComputePosition(info, width, height, trayOffsetX, trayOffsetY)
			in.ws.SetWidgetPosition(x, y)
		}
	}
	in.ws.SetWidgetTopmost()
}

func (in *Integrator) setVisible(visible bool) {
	in.mu.Lock()
	in.state.Visible = visible
	in.mu.Unlock()
	in.ws.SetWidgetVisible(visible)
}

func (in *Integrator) fallbackToSafeCorner() {
	screen, err := in.ws.ScreenContaining(0, 0)
	if err != nil {
		return
	}
	in.mu.Lock()
	w, h := in.state.Width, in.state.Height
	in.mu.Unlock()
	x := screen.Right - w
	y := screen.Bottom - h
	in.ws.SetWidgetPosition(x, y)
	if in.logger != nil {
		in.logger.Error("taskbar lost for 30 consecutive refreshes, falling back to screen corner", nil)
	}
}

// ComputePosition implements spec §4.4.1: physical rects are converted to
// logical px by dividing by dpi_scale before any arithmetic, and the
// final position is rounded once at the end so repeated calls with the
// same inputs are idempotent.
func ComputePosition(info TaskbarInfo, w, h, trayOffsetX, trayOffsetY float64) (int, int) {
	scale := info.DPIScale
	if scale <= 0 {
		scale = 1.0
	}

	tbLeft := float64(info.RectPhys.Left) / scale
	tbTop := float64(info.RectPhys.Top) / scale
	tbRight := float64(info.RectPhys.Right) / scale
	tbBottom := float64(info.RectPhys.Bottom) / scale
	tbHeight := tbBottom - tbTop
	tbWidth := tbRight - tbLeft

	switch info.Edge {
	case EdgeTop, EdgeBottom:
		var x float64
		if info.TrayRectPhys != nil {
			x = float64(info.TrayRectPhys.Left)/scale - w - trayOffsetX
		} else {
			x = tbRight - w - trayOffsetX
		}
		y := tbTop + (tbHeight-h)/2
		return int(math.Round(x)), int(math.Round(y))

	case EdgeLeft, EdgeRight:
		var y float64
		if info.TrayRectPhys != nil {
			y = float64(info.TrayRectPhys.Top)/scale - h - trayOffsetY
		} else {
			y = tbBottom - h - trayOffsetY
		}
		x := tbLeft + (tbWidth-w)/2
		return int(math.Round(x)), int(math.Round(y))

	default:
		return 0, 0
	}
}

// ConstrainDrag applies §4.4.2's drag constraints. screenBounds is the
// geometry of the screen containing the current drag position (not
// necessarily the taskbar's screen — bug #102 in the original app).
// taskbarBand/centeredMinor are only consulted when freeMove is false.
func ConstrainDrag(desiredX, desiredY int, freeMove bool, edge Edge, screenBounds, taskbarBand Rect, centeredMinor int) (int, int) {
	if freeMove {
		return clampInt(desiredX, screenBounds.Left, screenBounds.Right), clampInt(desiredY, screenBounds.Top, screenBounds.Bottom)
	}
	if edge.horizontal() {
		return clampInt(desiredX, taskbarBand.Left, taskbarBand.Right), centeredMinor
	}
	return centeredMinor, clampInt(desiredY, taskbarBand.Top, taskbarBand.Bottom)
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsObstructing implements §4.4.3's obstruction predicate: a foreground
// window counts as obstructing only if its rect exactly matches its
// monitor's rect, and it is neither the taskbar nor the widget itself.
func IsObstructing(foregroundHWND, taskbarHWND, widgetHWND uintptr, foregroundRect, monitorRect Rect) bool {
	if foregroundHWND == taskbarHWND || foregroundHWND == widgetHWND {
		return false
	}
	return foregroundRect == monitorRect
}

// RecoverFromShellRestart implements §4.4.4: tear down hooks, re-query
// the taskbar, reinstall hooks, and schedule five stabilizing refreshes
// a second apart. scheduleRefresh is provided by the caller (typically
// wrapping time.AfterFunc) so tests can drive it synchronously.
func (in *Integrator) RecoverFromShellRestart(scheduleRefresh func(delay time.Duration, fn func())) error {
	in.ws.TeardownHooks()
	if _, err := in.ws.QueryTaskbar(); err != nil {
		if in.logger != nil {
			in.logger.Error("shell restart recovery: taskbar still unreachable", map[string]any{"error": err.Error()})
		}
	}
	if err := in.ws.InstallHooks(); err != nil {
		return err
	}
	for i := 1; i <= 5; i++ {
		scheduleRefresh(time.Duration(i)*time.Second, in.ExecuteRefresh)
	}
	return nil
}

// PersistDragEnd records the final drag position (freeMove: absolute
// position_x/position_y; docked: tray_offset_x/tray_offset_y computed
// from the boundary so ComputePosition reproduces it) and notifies the
// registered persistence callback.
func (in *Integrator) PersistDragEnd(finalX, finalY int, info TaskbarInfo, w, h float64) {
	in.mu.Lock()
	freeMove := in.state.FreeMove
	in.mu.Unlock()

	if freeMove {
		in.mu.Lock()
		in.posX, in.posY = float64(finalX), float64(finalY)
		cb := in.onPositionPersisted
		in.mu.Unlock()
		if cb != nil {
			cb(true, finalX, finalY)
		}
		return
	}

	scale := info.DPIScale
	if scale <= 0 {
		scale = 1.0
	}
	var offsetX, offsetY float64
	if info.Edge.horizontal() {
		right := float64(info.RectPhys.Right) / scale
		if info.TrayRectPhys != nil {
			right = float64(info.TrayRectPhys.Left) / scale
		}
		offsetX = right - w - float64(finalX)
	} else {
		bottom := float64(info.RectPhys.Bottom) / scale
		if info.TrayRectPhys != nil {
			bottom = float64(info.TrayRectPhys.Top) / scale
		}
		offsetY = bottom - h - float64(finalY)
	}

	in.mu.Lock()
	in.trayOffsetX, in.trayOffsetY = offsetX, offsetY
	cb := in.onPositionPersisted
	in.mu.Unlock()
	if cb != nil {
		cb(false, int(math.Round(offsetX)), int(math.Round(offsetY)))
	}
}
