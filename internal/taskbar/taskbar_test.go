package taskbar

import (
	"sync"
	"testing"
	"time"
)

type fakeWindowSystem struct {
	mu sync.Mutex

	taskbarHWND   uintptr
	taskbarErr    error
	obstructed    bool
	obstructErr   error
	screen        Rect
	screenErr     error

	positions []struct{ x, y int }
	visible   []bool
	topmosts  int
	teardowns int
	installs  int
}

func (f *fakeWindowSystem) QueryTaskbar() (TaskbarInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taskbarErr != nil {
		return TaskbarInfo{}, f.taskbarErr
	}
	return TaskbarInfo{HWND: f.taskbarHWND, Edge: EdgeBottom, DPIScale: 1.0, RectPhys: Rect{0, 1040, 1920, 1080}}, nil
}

func (f *fakeWindowSystem) ForegroundObstructs(taskbarHWND, widgetHWND uintptr) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.obstructed, f.obstructErr
}

func (f *fakeWindowSystem) SetWidgetPosition(x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, struct{ x, y int }{x, y})
	return nil
}

func (f *fakeWindowSystem) SetWidgetVisible(visible bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = append(f.visible, visible)
	return nil
}

func (f *fakeWindowSystem) SetWidgetTopmost() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topmosts++
	return nil
}

func (f *fakeWindowSystem) ScreenContaining(x, y int) (Rect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screen, f.screenErr
}

func (f *fakeWindowSystem) TeardownHooks() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
}

func (f *fakeWindowSystem) InstallHooks() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs++
	return nil
}

func TestComputePositionBottomTaskbarCentersVertically(t *testing.T) {
	info := TaskbarInfo{
		RectPhys: Rect{Left: 0, Top: 1040, Right: 1920, Bottom: 1080},
		DPIScale: 1.0,
		Edge:     EdgeBottom,
	}
	x, y := ComputePosition(info, 100, 30, 10, 0)
	if x != 1920-100-10 {
		t.Fatalf("expected x=%d, got %d", 1920-100-10, x)
	}
	wantY := 1040 + (40-30)/2
	if y != wantY {
		t.Fatalf("expected y=%d, got %d", wantY, y)
	}
}

func TestComputePositionIsIdempotent(t *testing.T) {
	info := TaskbarInfo{RectPhys: Rect{0, 1040, 1920, 1080}, DPIScale: 1.25, Edge: EdgeBottom}
	x1, y1 := ComputePosition(info, 120, 32, 8, 0)
	x2, y2 := ComputePosition(info, 120, 32, 8, 0)
	if x1 != x2 || y1 != y2 {
		t.Fatalf("expected identical results across repeated calls, got (%d,%d) then (%d,%d)", x1, y1, x2, y2)
	}
}

func TestExecuteRefreshHidesImmediatelyOnObstruction(t *testing.T) {
	fws := &fakeWindowSystem{taskbarHWND: 1}
	in := New(fws, nil, nil, 99, false)
	in.state.Width, in.state.Height = 100, 30
	in.state.Visible = true

	fws.obstructed = true
	in.ExecuteRefresh()

	if len(fws.visible) == 0 || fws.visible[len(fws.visible)-1] != false {
		t.Fatalf("expected an immediate hide on obstruction, got visible calls %v", fws.visible)
	}
}

func TestExecuteRefreshSkippedDuringDragOrContextMenu(t *testing.T) {
	fws := &fakeWindowSystem{taskbarHWND: 1}
	in := New(fws, nil, nil, 99, false)
	in.SetDragging(true)
	in.ExecuteRefresh()
	if len(fws.positions) != 0 || fws.topmosts != 0 {
		t.Fatal("expected execute_refresh to no-op while dragging")
	}

	in.SetDragging(false)
	in.SetContextMenuOpen(true)
	in.ExecuteRefresh()
	if len(fws.positions) != 0 || fws.topmosts != 0 {
		t.Fatal("expected execute_refresh to no-op while a context menu is open")
	}
}

func TestExecuteRefreshFallsBackAfterThirtyLostTaskbars(t *testing.T) {
	fws := &fakeWindowSystem{taskbarErr: errNotFound{}}
	fws.screen = Rect{Left: 0, Top: 0, Right: 1920, Bottom: 1080}
	in := New(fws, nil, nil, 99, false)
	in.state.Width, in.state.Height = 100, 30

	for i := 0; i < taskbarLostFallbackThreshold; i++ {
		in.ExecuteRefresh()
	}

	if len(fws.positions) == 0 {
		t.Fatal("expected a fallback safe-corner position after 30 consecutive lost-taskbar refreshes")
	}
	last := fws.positions[len(fws.positions)-1]
	if last.x != 1920-100 || last.y != 1080-30 {
		t.Fatalf("expected bottom-right corner fallback, got %+v", last)
	}
}

type errNotFound struct{}

func (errNotFound) Error() string { return "taskbar not found" }

func TestConstrainDragFreeMoveClampsToScreen(t *testing.T) {
	screen := Rect{Left: 0, Top: 0, Right: 1920, Bottom: 1080}
	x, y := ConstrainDrag(5000, -50, true, EdgeBottom, screen, Rect{}, 0)
	if x != 1920 || y != 0 {
		t.Fatalf("expected clamp to screen bounds, got (%d,%d)", x, y)
	}
}

func TestConstrainDragDockedLocksMinorAxis(t *testing.T) {
	band := Rect{Left: 0, Top: 1040, Right: 1920, Bottom: 1080}
	x, y := ConstrainDrag(500, 9999, false, EdgeBottom, Rect{}, band, 1055)
	if y != 1055 {
		t.Fatalf("expected minor axis locked to centered value 1055, got %d", y)
	}
	if x != 500 {
		t.Fatalf("expected major axis to pass through within band, got %d", x)
	}
}

func TestIsObstructingExcludesTaskbarAndWidget(t *testing.T) {
	mon := Rect{0, 0, 1920, 1080}
	if IsObstructing(1 /*taskbar*/, 1, 2, mon, mon) {
		t.Fatal("expected taskbar HWND to never count as obstructing")
	}
	if IsObstructing(2 /*widget*/, 1, 2, mon, mon) {
		t.Fatal("expected widget HWND to never count as obstructing")
	}
	if !IsObstructing(3, 1, 2, mon, mon) {
		t.Fatal("expected a foreground window matching its monitor's rect to obstruct")
	}
}

func TestRecoverFromShellRestartSchedulesFiveRefreshes(t *testing.T) {
	fws := &fakeWindowSystem{taskbarHWND: 1}
	in := New(fws, nil, nil, 99, false)

	var scheduled []time.Duration
	err := in.RecoverFromShellRestart(func(delay time.Duration, fn func()) {
		scheduled = append(scheduled, delay)
	})
	if err != nil {
		t.Fatalf("RecoverFromShellRestart: %v", err)
	}
	if fws.teardowns != 1 || fws.installs != 1 {
		t.Fatalf("expected exactly one teardown and one install, got %d/%d", fws.teardowns, fws.installs)
	}
	if len(scheduled) != 5 {
		t.Fatalf("expected 5 scheduled refreshes, got %d", len(scheduled))
	}
	for i, d := range scheduled {
		want := time.Duration(i+1) * time.Second
		if d != want {
			t.Fatalf("expected refresh %d at %v, got %v", i, want, d)
		}
	}
}

type fakeTaskbarMetrics struct {
	mu          sync.Mutex
	refreshes   int
	lostCounts  []int
}

func (f *fakeTaskbarMetrics) IncTaskbarRefresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
}

func (f *fakeTaskbarMetrics) SetTaskbarLostCount(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lostCounts = append(f.lostCounts, n)
}

func (f *fakeTaskbarMetrics) snapshot() (refreshes int, lostCounts []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, append([]int{}, f.lostCounts...)
}

func TestExecuteRefreshPublishesRefreshAndLostCountMetrics(t *testing.T) {
	fws := &fakeWindowSystem{taskbarErr: errNotFound{}}
	fws.screen = Rect{Left: 0, Top: 0, Right: 1920, Bottom: 1080}
	metrics := &fakeTaskbarMetrics{}
	in := New(fws, nil, metrics, 99, false)
	in.state.Width, in.state.Height = 100, 30

	in.ExecuteRefresh()
	in.ExecuteRefresh()

	refreshes, lostCounts := metrics.snapshot()
	if refreshes != 2 {
		t.Fatalf("expected 2 recorded refreshes, got %d", refreshes)
	}
	if len(lostCounts) != 2 || lostCounts[0] != 1 || lostCounts[1] != 2 {
		t.Fatalf("expected lost counts [1 2], got %v", lostCounts)
	}

	fws.mu.Lock()
	fws.taskbarErr = nil
	fws.taskbarHWND = 1
	fws.mu.Unlock()
	in.ExecuteRefresh()

	_, lostCounts = metrics.snapshot()
	if last := lostCounts[len(lostCounts)-1]; last != 0 {
		t.Fatalf("expected lost count reset to 0 after recovery, got %d", last)
	}
}
