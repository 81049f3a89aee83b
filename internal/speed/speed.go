// Package speed implements the Speed Controller (spec §4.2): it turns
// successive counter snapshots from the sampler into per-interface rates,
// handles sleep/lag gaps and counter resets, aggregates across the
// configured monitoring mode, and batches samples for the history store.
package speed

import (
	"fmt"
	"math"
	"net"
	"strings"
	"sync"
	"time"

	"grimm.is/netspeedtray/internal/config"
	"grimm.is/netspeedtray/internal/sampler"
)

// DisplaySpeed is pushed to the sink once per tick.
type DisplaySpeed struct {
	UploadMbps   float64
	DownloadMbps float64
}

// SpeedSample is what the history store ingests.
type SpeedSample struct {
	EpochSeconds int64
	IfaceName    string
	UploadBps    float64
	DownloadBps  float64
}

// Sink receives display updates. Delivery failures are the caller's
// business to report; the controller never retries a failed Display —
// the widget repaint is best-effort (spec §4.2).
type Sink interface {
	Display(DisplaySpeed)
}

// BatchSink is the history store's ingest entry point.
type BatchSink interface {
	Enqueue(batch []SpeedSample) error
}

// Logger is the minimal structured-logging surface the controller needs.
type Logger interface {
	Warn(msg string, attrs map[string]any)
}

const (
	minGapSeconds        = 10.0
	gapIntervalMultiplier = 5.0
	negligibleTrafficBps  = 1.0

	// maxPendingBatches bounds the in-memory queue between the
	// controller's own flush cadence and the store's ingest worker;
	// beyond this the oldest pending batch is dropped with a warning.
	maxPendingBatches = 8
)

// Controller consumes a CounterSnapshot stream and emits DisplaySpeed plus
// batched SpeedSamples.
type Controller struct {
	sink   Sink
	store  BatchSink
	logger Logger

	mu       sync.Mutex
	cfg      config.Config
	prev     *sampler.CounterSnapshot

	batchMu sync.Mutex
	batch   []SpeedSample

	pendingCh chan []SpeedSample
	flushDone chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Controller. cfg supplies the poll interval (for
// long-gap detection), monitoring mode, selected interfaces and exclusion
// substrings, and the batch flush cadence.
func New(cfg config.Config, sink Sink, store BatchSink, logger Logger) *Controller {
	return &Controller{
		sink:      sink,
		store:     store,
		logger:    logger,
		cfg:       cfg,
		pendingCh: make(chan []SpeedSample, maxPendingBatches),
	}
}

// SetConfig swaps the active configuration; safe to call concurrently
// with Process (e.g. from a settings-change handler).
func (c *Controller) SetConfig(cfg config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

func (c *Controller) config() config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Run consumes snapshots until the channel is closed, flushing batches on
// the configured cadence and once more on exit.
func (c *Controller) Run(snapshots <-chan sampler.CounterSnapshot) {
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go c.submitLoop()

	flushInterval := c.flushInterval()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				c.flush()
				close(c.stopCh)
				close(c.pendingCh)
				c.wg.Wait()
				return
			}
			c.Process(snap)
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *Controller) flushInterval() time.Duration {
	cfg := c.config()
	d := time.Duration(cfg.BatchFlushSeconds * float64(time.Second))
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}

// Process derives a rate from one new snapshot, feeds the sink, and
// appends qualifying samples to the pending batch.
func (c *Controller) Process(snap sampler.CounterSnapshot) {
	cfg := c.config()

	c.mu.Lock()
	prev := c.prev
	c.mu.Unlock()

	if prev == nil {
		c.prime(snap)
		c.sink.Display(DisplaySpeed{})
		return
	}

	dt := snap.MonotonicTimeS - prev.MonotonicTimeS
	maxGap := math.Max(minGapSeconds, gapIntervalMultiplier*cfg.PollIntervalSeconds)
	if dt <= 0 || dt > maxGap {
		c.prime(snap)
		c.sink.Display(DisplaySpeed{})
		return
	}

	names := c.selectInterfaces(cfg, snap.PerIface)

	var totalUpBps, totalDownBps float64
	samples := make([]SpeedSample, 0, len(names))
	epoch := time.Now().Unix()

	for _, name := range names {
		curr := snap.PerIface[name]
		prevCounters, ok := prev.PerIface[name]
		if !ok {
			continue
		}
		upBps := float64(diffNonNegative(curr.BytesSent, prevCounters.BytesSent)) / dt
		downBps := float64(diffNonNegative(curr.BytesRecv, prevCounters.BytesRecv)) / dt
		totalUpBps += upBps
		totalDownBps += downBps
		if upBps >= negligibleTrafficBps || downBps >= negligibleTrafficBps {
			samples = append(samples, SpeedSample{
				EpochSeconds: epoch,
				IfaceName:    name,
				UploadBps:    upBps,
				DownloadBps:  downBps,
			})
		}
	}

	c.prime(snap)
	c.sink.Display(DisplaySpeed{
		UploadMbps:   bpsToMbps(totalUpBps),
		DownloadMbps: bpsToMbps(totalDownBps),
	})
	c.appendBatch(samples)
}

func (c *Controller) prime(snap sampler.CounterSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prev = &snap
}

func diffNonNegative(curr, prev uint64) uint64 {
	if curr < prev {
		return 0
	}
	return curr - prev
}

func bpsToMbps(bps float64) float64 {
	return bps * 8 / 1e6
}

func (c *Controller) appendBatch(samples []SpeedSample) {
	if len(samples) == 0 {
		return
	}
	c.batchMu.Lock()
	defer c.batchMu.Unlock()
	c.batch = append(c.batch, samples...)
}

// flush moves the accumulated batch into the pending queue, dropping the
// oldest pending batch if the queue is full (spec §4.2: overflow drops the
// oldest batch with a warning, never blocks the controller).
func (c *Controller) flush() {
	c.batchMu.Lock()
	batch := c.batch
	c.batch = nil
	c.batchMu.Unlock()

	if len(batch) == 0 {
		return
	}

	select {
	case c.pendingCh <- batch:
		return
	default:
	}

	select {
	case <-c.pendingCh:
		if c.logger != nil {
			c.logger.Warn("dropping oldest speed sample batch, queue full", nil)
		}
	default:
	}

	select {
	case c.pendingCh <- batch:
	default:
	}
}

func (c *Controller) submitLoop() {
	defer c.wg.Done()
	for batch := range c.pendingCh {
		if c.store == nil {
			continue
		}
		if err := c.store.Enqueue(batch); err != nil && c.logger != nil {
			c.logger.Warn("store enqueue failed", map[string]any{"error": err.Error()})
		}
	}
}

// selectInterfaces applies the active monitoring mode to the interfaces
// present in this snapshot, per spec §4.2.
func (c *Controller) selectInterfaces(cfg config.Config, perIface map[string]sampler.IfaceCounters) []string {
	switch cfg.MonitoringMode {
	case config.ModeSelected:
		out := make([]string, 0, len(cfg.SelectedInterfaces))
		for _, want := range cfg.SelectedInterfaces {
			if _, ok := perIface[want]; ok {
				out = append(out, want)
			}
		}
		return out
	case config.ModeAllPhysical:
		return filterByExclusion(perIface, cfg.ExcludedSubstrings, false)
	case config.ModeAllVirtual:
		return filterByExclusion(perIface, cfg.ExcludedSubstrings, true)
	default: // ModeAuto
		primary, err := detectPrimaryInterfaceName()
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("auto interface detection failed", map[string]any{"error": err.Error()})
			}
			return nil
		}
		if _, ok := perIface[primary]; !ok {
			return nil
		}
		return []string{primary}
	}
}

func filterByExclusion(perIface map[string]sampler.IfaceCounters, excluded []string, wantExcluded bool) []string {
	out := make([]string, 0, len(perIface))
	for name := range perIface {
		if isExcluded(name, excluded) == wantExcluded {
			out = append(out, name)
		}
	}
	return out
}

func isExcluded(name string, excluded []string) bool {
	lower := strings.ToLower(name)
	for _, e := range excluded {
		if e == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

// detectPrimaryInterfaceName finds the interface owning the local address
// the OS would use to reach the public internet, by opening a UDP "probe"
// socket (no packets are actually sent for a UDP dial) and matching its
// local address against each interface's bound addresses.
func detectPrimaryInterfaceName() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("probing default route: %w", err)
	}
	defer conn.Close()

	udpAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ipnet.IP.Equal(udpAddr.IP) {
				return ifi.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no interface matched local address %s", udpAddr.IP)
}
