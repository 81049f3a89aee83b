package sampler

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type nopLogger struct{}

func (nopLogger) Warn(string, map[string]any)  {}
func (nopLogger) Error(string, map[string]any) {}

type fakeMetrics struct {
	mu           sync.Mutex
	failures     int
	circuitTrips int
}

func (f *fakeMetrics) IncSamplerFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

func (f *fakeMetrics) IncSamplerCircuitTrip() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.circuitTrips++
}

func (f *fakeMetrics) snapshot() (failures, circuitTrips int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures, f.circuitTrips
}

type scriptedReader struct {
	mu      sync.Mutex
	results []readResult
	idx     int
}

type readResult struct {
	counters map[string]IfaceCounters
	err      error
}

func (r *scriptedReader) ReadCounters() (map[string]IfaceCounters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.idx >= len(r.results) {
		// Repeat the last scripted result forever.
		res := r.results[len(r.results)-1]
		return res.counters, res.err
	}
	res := r.results[r.idx]
	r.idx++
	return res.counters, res.err
}

func TestClampInterval(t *testing.T) {
	if got := clampInterval(1 * time.Millisecond); got != MinInterval {
		t.Fatalf("expected clamp to MinInterval, got %v", got)
	}
	if got := clampInterval(20 * time.Second); got != MaxInterval {
		t.Fatalf("expected clamp to MaxInterval, got %v", got)
	}
	if got := clampInterval(2 * time.Second); got != 2*time.Second {
		t.Fatalf("expected unchanged, got %v", got)
	}
}

func TestSamplerEmitsSnapshots(t *testing.T) {
	reader := &scriptedReader{results: []readResult{
		{counters: map[string]IfaceCounters{"Wi-Fi": {BytesSent: 100, BytesRecv: 200}}},
	}}
	s := New(reader, nopLogger{}, nil)
	out, fatal := s.Start(10 * time.Millisecond)

	select {
	case snap := <-out:
		if snap.PerIface["Wi-Fi"].BytesSent != 100 {
			t.Fatalf("expected BytesSent 100, got %+v", snap.PerIface["Wi-Fi"])
		}
	case err := <-fatal:
		t.Fatalf("unexpected fatal error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	s.Stop()
}

func TestSamplerCircuitBreakerTripsAfterTenFailures(t *testing.T) {
	reader := &scriptedReader{results: []readResult{
		{err: fmt.Errorf("permission denied")},
	}}
	s := New(reader, nopLogger{}, nil)
	_, fatal := s.Start(time.Millisecond)

	select {
	case err := <-fatal:
		if err == nil {
			t.Fatal("expected non-nil fatal error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected circuit breaker to trip and surface a fatal error")
	}
}

func TestSamplerPublishesFailureAndCircuitTripMetrics(t *testing.T) {
	reader := &scriptedReader{results: []readResult{
		{err: fmt.Errorf("permission denied")},
	}}
	metrics := &fakeMetrics{}
	s := New(reader, nopLogger{}, metrics)
	_, fatal := s.Start(time.Millisecond)

	select {
	case <-fatal:
	case <-time.After(2 * time.Second):
		t.Fatal("expected circuit breaker to trip")
	}

	failures, circuitTrips := metrics.snapshot()
	if failures < consecutiveFailureThreshold {
		t.Fatalf("expected at least %d recorded failures, got %d", consecutiveFailureThreshold, failures)
	}
	if circuitTrips != 1 {
		t.Fatalf("expected exactly 1 circuit trip, got %d", circuitTrips)
	}
}

func TestSamplerStopClosesChannel(t *testing.T) {
	reader := &scriptedReader{results: []readResult{
		{counters: map[string]IfaceCounters{"eth0": {}}},
	}}
	s := New(reader, nopLogger{}, nil)
	out, _ := s.Start(5 * time.Millisecond)
	<-out // consume one snapshot
	s.Stop()

	// Drain until closed.
	for range out {
	}
}
