package speed

import (
	"sync"
	"testing"

	"grimm.is/netspeedtray/internal/config"
	"grimm.is/netspeedtray/internal/sampler"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []DisplaySpeed
}

func (s *recordingSink) Display(d DisplaySpeed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, d)
}

func (s *recordingSink) last() DisplaySpeed {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return DisplaySpeed{}
	}
	return s.updates[len(s.updates)-1]
}

type recordingStore struct {
	mu      sync.Mutex
	batches [][]SpeedSample
}

func (s *recordingStore) Enqueue(batch []SpeedSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
	return nil
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.MonitoringMode = config.ModeSelected
	cfg.SelectedInterfaces = []string{"eth0"}
	return cfg
}

func TestFirstSnapshotPrimesAndEmitsZero(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingStore{}
	c := New(baseConfig(), sink, store, nil)

	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 0,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 1000, BytesRecv: 2000}},
	})

	got := sink.last()
	if got.UploadMbps != 0 || got.DownloadMbps != 0 {
		t.Fatalf("expected zero display on priming tick, got %+v", got)
	}
	c.flush()
	if len(store.batches) != 0 {
		t.Fatalf("expected no batch written on priming tick, got %d", len(store.batches))
	}
}

func TestNormalRateComputation(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingStore{}
	c := New(baseConfig(), sink, store, nil)

	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 0,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 0, BytesRecv: 0}},
	})
	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 1,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 125000, BytesRecv: 250000}},
	})

	got := sink.last()
	// 125000 B/s up = 1 Mbps, 250000 B/s down = 2 Mbps.
	if got.UploadMbps < 0.99 || got.UploadMbps > 1.01 {
		t.Fatalf("expected ~1 Mbps upload, got %v", got.UploadMbps)
	}
	if got.DownloadMbps < 1.99 || got.DownloadMbps > 2.01 {
		t.Fatalf("expected ~2 Mbps download, got %v", got.DownloadMbps)
	}
}

func TestCounterDecreaseYieldsZeroNotNegative(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingStore{}
	c := New(baseConfig(), sink, store, nil)

	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 0,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 5000, BytesRecv: 5000}},
	})
	// Adapter reset: counters drop back to a small value.
	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 1,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 100, BytesRecv: 100}},
	})

	got := sink.last()
	if got.UploadMbps != 0 || got.DownloadMbps != 0 {
		t.Fatalf("expected zero rate on counter reset, got %+v", got)
	}
}

func TestLongGapTreatedAsResume(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingStore{}
	cfg := baseConfig()
	cfg.PollIntervalSeconds = 1.0
	c := New(cfg, sink, store, nil)

	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 0,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 0, BytesRecv: 0}},
	})
	// Gap far exceeding max(10s, 5*1s) = 10s.
	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 120,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 9999999, BytesRecv: 9999999}},
	})

	got := sink.last()
	if got.UploadMbps != 0 || got.DownloadMbps != 0 {
		t.Fatalf("expected zero display across a long gap (resume-from-sleep), got %+v", got)
	}
	c.flush()
	if len(store.batches) != 0 {
		t.Fatalf("expected no samples written across a resume gap, got %d batches", len(store.batches))
	}
}

func TestNegligibleTrafficFilteredFromBatch(t *testing.T) {
	sink := &recordingSink{}
	store := &recordingStore{}
	c := New(baseConfig(), sink, store, nil)

	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 0,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 0, BytesRecv: 0}},
	})
	// Less than 1 byte/s in each direction over a 1s tick.
	c.Process(sampler.CounterSnapshot{
		MonotonicTimeS: 1,
		PerIface:       map[string]sampler.IfaceCounters{"eth0": {BytesSent: 0, BytesRecv: 0}},
	})
	c.flush()
	if len(store.batches) != 0 {
		t.Fatalf("expected negligible-traffic tick to be filtered from the batch, got %d batches", len(store.batches))
	}
}

func TestSelectionModeAllPhysicalExcludesVirtual(t *testing.T) {
	cfg := config.Default()
	cfg.MonitoringMode = config.ModeAllPhysical
	cfg.ExcludedSubstrings = []string{"virtual", "loopback"}
	c := New(cfg, &recordingSink{}, &recordingStore{}, nil)

	names := c.selectInterfaces(cfg, map[string]sampler.IfaceCounters{
		"Ethernet":          {},
		"VMware Virtual Nic": {},
	})
	if len(names) != 1 || names[0] != "Ethernet" {
		t.Fatalf("expected only Ethernet selected, got %v", names)
	}
}

func TestSelectionModeAllVirtualIsComplement(t *testing.T) {
	cfg := config.Default()
	cfg.MonitoringMode = config.ModeAllVirtual
	cfg.ExcludedSubstrings = []string{"virtual"}
	c := New(cfg, &recordingSink{}, &recordingStore{}, nil)

	names := c.selectInterfaces(cfg, map[string]sampler.IfaceCounters{
		"Ethernet":          {},
		"VMware Virtual Nic": {},
	})
	if len(names) != 1 || names[0] != "VMware Virtual Nic" {
		t.Fatalf("expected only the virtual nic selected, got %v", names)
	}
}

func TestFlushDropsOldestBatchWhenPendingQueueFull(t *testing.T) {
	c := New(baseConfig(), &recordingSink{}, &recordingStore{}, nil)

	// Fill the pending queue beyond capacity without a submitter draining it.
	for i := 0; i < maxPendingBatches+2; i++ {
		c.batch = []SpeedSample{{IfaceName: "eth0", UploadBps: float64(i + 1)}}
		c.flush()
	}

	if len(c.pendingCh) != maxPendingBatches {
		t.Fatalf("expected pending queue capped at %d, got %d", maxPendingBatches, len(c.pendingCh))
	}
	// The oldest entries should have been dropped; the newest batch must
	// still be present somewhere in the channel.
	found := false
	for i := 0; i < len(c.pendingCh); i++ {
		b := <-c.pendingCh
		if len(b) == 1 && b[0].UploadBps == float64(maxPendingBatches+2) {
			found = true
		}
		c.pendingCh <- b
	}
	if !found {
		t.Fatal("expected the most recent batch to survive overflow eviction")
	}
}
