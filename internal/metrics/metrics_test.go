package metrics

import "testing"

func TestNewRegistersAllSeries(t *testing.T) {
	r := New()

	r.SamplerFailures.Inc()
	r.SamplerCircuitTrips.Inc()
	r.StoreQueueDepth.Set(4)
	r.StoreWriteFailures.Inc()
	r.StoreBackoffLevel.Set(2)
	r.TaskbarLostCount.Set(1)
	r.TaskbarRefreshes.Inc()

	families, err := r.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"netspeedtray_sampler_failures_total",
		"netspeedtray_sampler_circuit_trips_total",
		"netspeedtray_store_queue_depth",
		"netspeedtray_store_write_failures_total",
		"netspeedtray_store_backoff_attempt",
		"netspeedtray_taskbar_lost_count",
		"netspeedtray_taskbar_refreshes_total",
	}
	for _, w := range want {
		if !names[w] {
			t.Fatalf("expected metric family %q to be registered, got %v", w, names)
		}
	}
}

func TestNewRegistriesAreIndependent(t *testing.T) {
	r1 := New()
	r2 := New()

	r1.SamplerFailures.Inc()

	families, err := r2.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != "netspeedtray_sampler_failures_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			if m.GetCounter().GetValue() != 0 {
				t.Fatalf("expected a fresh registry to start at 0, got %v", m.GetCounter().GetValue())
			}
		}
	}
}
