// Package graph implements the graph window's data pipeline: resolving a
// GraphRequest into renderable panel geometry (gap-segmented, interpolated,
// axis-scaled series) without depending on any particular drawing surface.
// The actual pixel painting happens in the UI layer; this package owns only
// the numerical transforms feeding it.
package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"grimm.is/netspeedtray/internal/history"
)

// HistorySource is the subset of *history.Store the pipeline needs, kept
// narrow so tests can supply an in-memory fake instead of a real database.
// Resolution/Point are type aliases of history's own types (not redeclared
// copies) so *history.Store satisfies this interface directly.
type HistorySource interface {
	SpeedHistory(start, end time.Time, iface string, resolution Resolution) ([]Point, error)
	TotalBandwidth(start, end time.Time, iface string) (uploadBytes, downloadBytes int64, err error)
}

// Resolution is an alias of history.Resolution.
type Resolution = history.Resolution

const (
	ResolutionRaw    = history.ResolutionRaw
	ResolutionMinute = history.ResolutionMinute
	ResolutionHour   = history.ResolutionHour
	ResolutionDay    = history.ResolutionDay
)

// Point is an alias of history.HistoryPoint, the shape returned by
// HistorySource and the shape session-view callers append to the live
// deque.
type Point = history.HistoryPoint

// GraphRequest carries a query plus the sequence_id used to discard stale
// responses (spec §4.5 step 1).
type GraphRequest struct {
	Start         *time.Time
	End           time.Time
	Iface         string
	IsSessionView bool
	SequenceID    uint64
}

const (
	maxPointBudget      = 2000
	interpolationMax    = 600
	interpolationDensity = 4
	gapMultiplier       = 2.5
	gapFloorSeconds     = 10.0
	axisShrinkThreshold = 0.70
	axisPadding         = 1.12
)

var axisSteps = []float64{1, 5, 10, 50, 100, 250, 500, 1000}

// Segment is one gap-free run of points, already stride-downsampled and
// (if small enough) interpolated.
type Segment struct {
	Points []Point
}

// PeakMarker is a single highlighted extremum, rendered as three concentric
// dots of decreasing alpha plus a text label (spec §4.5 step 7).
type PeakMarker struct {
	EpochSeconds int64
	ValueBps     float64
}

// PanelModel is the renderable shape for one of the two stacked panels.
type PanelModel struct {
	Segments  []Segment
	Peak      PeakMarker
	AxisTop   float64
	BridgesAt []int64 // epoch seconds of zero-dashed bridges between segments
}

// RenderModel is the full result of one pipeline run, ready for the UI to
// paint; it's what data_ready(history, total_up, total_down, sequence_id)
// carries in the original event-based design.
type RenderModel struct {
	SequenceID  uint64
	Upload      PanelModel
	Download    PanelModel
	TotalUpload int64
	TotalDown   int64
	BootMarker  *int64 // epoch seconds, nil if boot time isn't in the visible range
}

// axisState tracks the sticky y-axis top across renders of the same panel
// (spec §4.5 step 6: "the axis top never shrinks unless the observed max
// drops below 70% of the current top").
type axisState struct {
	mu  sync.Mutex
	top float64
}

func (a *axisState) next(observedMax float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidate := niceStep(observedMax * axisPadding)
	if a.top == 0 {
		a.top = candidate
		return a.top
	}
	if observedMax < a.top*axisShrinkThreshold {
		a.top = candidate
	} else if candidate > a.top {
		a.top = candidate
	}
	return a.top
}

// niceStep rounds v up to the next value in axisSteps scaled by a power of
// ten, so at most 5-7 axis labels are needed.
func niceStep(v float64) float64 {
	if v <= 0 {
		return axisSteps[0]
	}
	for magnitude := 1.0; magnitude < 1e18; magnitude *= 10 {
		for _, s := range axisSteps {
			if candidate := s * magnitude; candidate >= v {
				return candidate
			}
		}
	}
	return v
}

// gradientCache memoizes per-color gradient fills, keyed by color hex, so a
// color's gradient is computed once and reused forever (spec §4.5 step 7).
// The stored value is opaque to this package: callers (the UI layer) decide
// what a "gradient" object actually is; this just guards lazy, idempotent
// population behind a mutex, the way the teacher guards its lazily-built
// caches elsewhere.
type gradientCache struct {
	mu    sync.Mutex
	byHex map[string]any
}

func newGradientCache() *gradientCache {
	return &gradientCache{byHex: make(map[string]any)}
}

func (g *gradientCache) get(hex string, build func() any) any {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.byHex[hex]; ok {
		return v
	}
	v := build()
	g.byHex[hex] = v
	return v
}

// Worker runs the graph-data pipeline on its own goroutine, the "graph data
// worker thread" of spec §5: it owns GraphRequest sequencing and query
// latency so the UI thread never blocks.
type Worker struct {
	source HistorySource
	bootAt time.Time

	uploadAxis   axisState
	downloadAxis axisState
	gradients    *gradientCache

	limiter *rate.Limiter

	mu              sync.Mutex
	lastProcessedID uint64

	requests chan GraphRequest
	results  chan RenderModel
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewWorker builds a Worker. bootAt is the process start time, used for the
// optional boot-time event marker. rebuildThrottle is normally 150ms (spec
// §4.5 "Live update").
func NewWorker(source HistorySource, bootAt time.Time, rebuildThrottle time.Duration) *Worker {
	if rebuildThrottle <= 0 {
		rebuildThrottle = 150 * time.Millisecond
	}
	return &Worker{
		source:    source,
		bootAt:    bootAt,
		gradients: newGradientCache(),
		limiter:   rate.NewLimiter(rate.Every(rebuildThrottle), 1),
		requests:  make(chan GraphRequest, 8),
		results:   make(chan RenderModel, 8),
		stopCh:    make(chan struct{}),
	}
}

// Results is the channel the UI thread reads data_ready events from.
func (w *Worker) Results() <-chan RenderModel { return w.results }

// Submit enqueues a GraphRequest, dropping the oldest pending one if the
// queue is full: only the most recent request matters, stale ones are
// superseded anyway by sequence_id ordering.
func (w *Worker) Submit(req GraphRequest) {
	select {
	case w.requests <- req:
		return
	default:
	}
	select {
	case <-w.requests:
	default:
	}
	select {
	case w.requests <- req:
	default:
	}
}

// Run processes requests until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case req := <-w.requests:
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			w.handle(req)
		}
	}
}

// Stop terminates Run and waits for it to return.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Worker) handle(req GraphRequest) {
	w.mu.Lock()
	if req.SequenceID < w.lastProcessedID {
		w.mu.Unlock()
		return
	}
	w.lastProcessedID = req.SequenceID
	w.mu.Unlock()

	model, err := w.Build(req)
	if err != nil {
		return
	}
	select {
	case w.results <- model:
	default:
		// Drop rather than block the worker on a slow UI consumer; the
		// next 1Hz tick will supersede this one anyway.
	}
}

// Build runs the full pipeline for a single request and returns the
// resulting RenderModel, independent of the channel-based Run loop (used
// directly by tests and by one-shot callers like the initial graph-window
// open).
func (w *Worker) Build(req GraphRequest) (RenderModel, error) {
	start := req.Start
	end := req.End
	var startTime time.Time
	if start != nil {
		startTime = *start
	} else {
		startTime = end.Add(-time.Hour)
	}

	raw, err := w.source.SpeedHistory(startTime, end, req.Iface, resolutionFor(end.Sub(startTime)))
	if err != nil {
		return RenderModel{}, fmt.Errorf("querying speed history: %w", err)
	}

	totalUp, totalDown, err := w.source.TotalBandwidth(startTime, end, req.Iface)
	if err != nil {
		return RenderModel{}, fmt.Errorf("summing total bandwidth: %w", err)
	}

	uploadModel := w.buildPanel(raw, &w.uploadAxis, func(p Point) float64 { return p.UploadBps })
	downloadModel := w.buildPanel(raw, &w.downloadAxis, func(p Point) float64 { return p.DownloadBps })

	model := RenderModel{
		SequenceID:  req.SequenceID,
		Upload:      uploadModel,
		Download:    downloadModel,
		TotalUpload: totalUp,
		TotalDown:   totalDown,
	}
	if !w.bootAt.IsZero() {
		bootEpoch := w.bootAt.Unix()
		if bootEpoch >= startTime.Unix() && bootEpoch <= end.Unix() {
			model.BootMarker = &bootEpoch
		}
	}
	return model, nil
}

// resolutionFor picks a query resolution proportional to the requested
// window so the point budget is rarely exceeded before downsampling even
// runs.
func resolutionFor(span time.Duration) Resolution {
	switch {
	case span <= 2*time.Hour:
		return ResolutionRaw
	case span <= 7*24*time.Hour:
		return ResolutionMinute
	default:
		return ResolutionHour
	}
}

func (w *Worker) buildPanel(points []Point, axis *axisState, value func(Point) float64) PanelModel {
	downsampled, peak := downsampleWithPeak(points, maxPointBudget, value)
	segments, bridges := segmentByGaps(downsampled)

	observedMax := 0.0
	for _, p := range downsampled {
		if v := value(p); v > observedMax {
			observedMax = v
		}
	}

	for i := range segments {
		if len(segments[i].Points) <= interpolationMax {
			segments[i].Points = interpolateMonotone(segments[i].Points, interpolationDensity, value)
		}
	}

	return PanelModel{
		Segments:  segments,
		Peak:      peak,
		AxisTop:   axis.next(observedMax),
		BridgesAt: bridges,
	}
}

// downsampleWithPeak caps points to budget by striding (never averaging),
// then re-injects the global peak for the given dimension if stride dropped
// it, preserving event amplitude across zoom levels (spec §4.5 step 3).
func downsampleWithPeak(points []Point, budget int, value func(Point) float64) ([]Point, PeakMarker) {
	var globalPeak PeakMarker
	for _, p := range points {
		if v := value(p); v > globalPeak.ValueBps {
			globalPeak = PeakMarker{EpochSeconds: p.EpochSeconds, ValueBps: v}
		}
	}

	if len(points) <= budget {
		return points, globalPeak
	}

	stride := int(math.Ceil(float64(len(points)) / float64(budget)))
	if stride < 1 {
		stride = 1
	}

	out := make([]Point, 0, budget+1)
	havePeak := false
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
		if points[i].EpochSeconds == globalPeak.EpochSeconds {
			havePeak = true
		}
	}
	if !havePeak && globalPeak.EpochSeconds != 0 {
		out = insertSorted(out, Point{EpochSeconds: globalPeak.EpochSeconds, UploadBps: pickIfMatches(points, globalPeak, true), DownloadBps: pickIfMatches(points, globalPeak, false)})
	}
	return out, globalPeak
}

// pickIfMatches recovers the full Point for the global peak's epoch so
// re-injection carries both upload and download values, not just the
// dimension that produced the peak.
func pickIfMatches(points []Point, peak PeakMarker, wantUpload bool) float64 {
	for _, p := range points {
		if p.EpochSeconds == peak.EpochSeconds {
			if wantUpload {
				return p.UploadBps
			}
			return p.DownloadBps
		}
	}
	return peak.ValueBps
}

func insertSorted(points []Point, p Point) []Point {
	idx := sort.Search(len(points), func(i int) bool { return points[i].EpochSeconds >= p.EpochSeconds })
	points = append(points, Point{})
	copy(points[idx+1:], points[idx:])
	points[idx] = p
	return points
}

// segmentByGaps splits points into disjoint runs wherever the interval to
// the next point exceeds max(2.5*median, 10s) (spec §4.5 step 4). Returns
// the bridge epoch (the gap midpoint) for each break, used to draw the
// dashed zero-line between segments.
func segmentByGaps(points []Point) ([]Segment, []int64) {
	if len(points) == 0 {
		return nil, nil
	}
	if len(points) == 1 {
		return []Segment{{Points: points}}, nil
	}

	intervals := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		intervals = append(intervals, float64(points[i].EpochSeconds-points[i-1].EpochSeconds))
	}
	median := medianOf(intervals)
	threshold := math.Max(gapMultiplier*median, gapFloorSeconds)

	var segments []Segment
	var bridges []int64
	cur := []Point{points[0]}
	for i := 1; i < len(points); i++ {
		gap := float64(points[i].EpochSeconds - points[i-1].EpochSeconds)
		if gap > threshold {
			segments = append(segments, Segment{Points: cur})
			bridges = append(bridges, (points[i-1].EpochSeconds+points[i].EpochSeconds)/2)
			cur = []Point{points[i]}
			continue
		}
		cur = append(cur, points[i])
	}
	segments = append(segments, Segment{Points: cur})
	return segments, bridges
}

func medianOf(vals []float64) float64 {
	if len(vals) == 0 {
		return gapFloorSeconds
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// interpolateMonotone inserts `density`-1 extra points between every pair
// using monotone cubic (Fritsch-Carlson) tangents so the curve never
// overshoots between samples, then clips negatives to 0 (spec §4.5 step 5).
func interpolateMonotone(points []Point, density int, value func(Point) float64) []Point {
	n := len(points)
	if n < 3 || density <= 1 {
		return points
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range points {
		xs[i] = float64(p.EpochSeconds)
		ys[i] = value(p)
	}
	tangents := fritschCarlsonTangents(xs, ys)

	out := make([]Point, 0, n*density)
	for i := 0; i < n-1; i++ {
		out = append(out, points[i])
		dx := xs[i+1] - xs[i]
		for k := 1; k < density; k++ {
			t := float64(k) / float64(density)
			h00 := (1 + 2*t) * (1 - t) * (1 - t)
			h10 := t * (1 - t) * (1 - t)
			h01 := t * t * (3 - 2*t)
			h11 := t * t * (t - 1)
			y := h00*ys[i] + h10*dx*tangents[i] + h01*ys[i+1] + h11*dx*tangents[i+1]
			if y < 0 {
				y = 0
			}
			epoch := xs[i] + t*dx
			out = append(out, interpolatedPoint(points[i], points[i+1], epoch, y, value))
		}
	}
	out = append(out, points[n-1])
	return out
}

// interpolatedPoint carries the interpolated value for one dimension while
// passing the other dimension through linearly, so upload and download
// panels interpolate independently without clobbering each other's fields
// when both are built from the same underlying Point slice.
func interpolatedPoint(a, b Point, epoch, value float64, dim func(Point) float64) Point {
	t := 0.0
	if b.EpochSeconds != a.EpochSeconds {
		t = (epoch - float64(a.EpochSeconds)) / float64(b.EpochSeconds-a.EpochSeconds)
	}
	p := Point{EpochSeconds: int64(epoch)}
	lerp := func(av, bv float64) float64 { return av + t*(bv-av) }
	if dim(a) == a.UploadBps && dim(b) == b.UploadBps {
		p.UploadBps = value
		p.DownloadBps = lerp(a.DownloadBps, b.DownloadBps)
	} else {
		p.DownloadBps = value
		p.UploadBps = lerp(a.UploadBps, b.UploadBps)
	}
	return p
}

// fritschCarlsonTangents computes monotone-preserving tangents for cubic
// Hermite interpolation, per Fritsch & Carlson (1980): secants are averaged
// then clamped so the interpolant never overshoots a local min/max.
func fritschCarlsonTangents(xs, ys []float64) []float64 {
	n := len(xs)
	secants := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		dx := xs[i+1] - xs[i]
		if dx == 0 {
			secants[i] = 0
			continue
		}
		secants[i] = (ys[i+1] - ys[i]) / dx
	}

	tangents := make([]float64, n)
	tangents[0] = secants[0]
	tangents[n-1] = secants[n-2]
	for i := 1; i < n-1; i++ {
		if secants[i-1]*secants[i] <= 0 {
			tangents[i] = 0
			continue
		}
		tangents[i] = (secants[i-1] + secants[i]) / 2
	}

	for i := 0; i < n-1; i++ {
		if secants[i] == 0 {
			tangents[i], tangents[i+1] = 0, 0
			continue
		}
		a := tangents[i] / secants[i]
		b := tangents[i+1] / secants[i]
		if a < 0 {
			tangents[i] = 0
		}
		if b < 0 {
			tangents[i+1] = 0
		}
		dist := a*a + b*b
		if dist > 9 {
			tau := 3 / math.Sqrt(dist)
			tangents[i] = tau * a * secants[i]
			tangents[i+1] = tau * b * secants[i]
		}
	}
	return tangents
}

// Gradient returns the cached gradient object for hex, building it with
// build on first use only. The UI layer supplies build (it knows what a
// gradient fill actually is); this just enforces the cache-once contract.
func (w *Worker) Gradient(hex string, build func() any) any {
	return w.gradients.get(hex, build)
}
