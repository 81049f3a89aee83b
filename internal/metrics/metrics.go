// Package metrics exposes an in-process Prometheus registry for
// diagnosability — circuit-breaker trips, DB queue depth — without a
// network listener: the spec's external interfaces have no metrics
// endpoint, so this registry is only readable in-process through Gather,
// never through an exporter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds the counters and gauges every component publishes to.
type Registry struct {
	reg *prometheus.Registry

	SamplerFailures     prometheus.Counter
	SamplerCircuitTrips prometheus.Counter

	StoreQueueDepth   prometheus.Gauge
	StoreWriteFailures prometheus.Counter
	StoreBackoffLevel prometheus.Gauge

	TaskbarLostCount prometheus.Gauge
	TaskbarRefreshes prometheus.Counter
}

// New builds a fresh registry with all series registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		SamplerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netspeedtray_sampler_failures_total",
			Help: "Consecutive-failure-reset counter read failures.",
		}),
		SamplerCircuitTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netspeedtray_sampler_circuit_trips_total",
			Help: "Times the sampler's circuit breaker tripped.",
		}),
		StoreQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netspeedtray_store_queue_depth",
			Help: "Pending tasks in the history store's worker queue.",
		}),
		StoreWriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netspeedtray_store_write_failures_total",
			Help: "History store ingest batches given up on (non-retryable error or retries exhausted).",
		}),
		StoreBackoffLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netspeedtray_store_backoff_attempt",
			Help: "Current reconnect backoff attempt (0 = healthy).",
		}),
		TaskbarLostCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netspeedtray_taskbar_lost_count",
			Help: "Consecutive taskbar-query failures since the last success.",
		}),
		TaskbarRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netspeedtray_taskbar_refreshes_total",
			Help: "execute_refresh invocations.",
		}),
	}

	reg.MustRegister(
		r.SamplerFailures, r.SamplerCircuitTrips,
		r.StoreQueueDepth, r.StoreWriteFailures, r.StoreBackoffLevel,
		r.TaskbarLostCount, r.TaskbarRefreshes,
	)
	return r
}

// Gather returns the current metric families, for an internal debug dump.
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	return r.reg.Gather()
}

// The methods below let *Registry satisfy the narrow Metrics interfaces
// internal/sampler, internal/history and internal/taskbar each declare
// for themselves (the same pattern as this module's Logger interfaces):
// components depend on a two-or-three-method interface, never on
// *Registry or the prometheus API directly.

// IncSamplerFailure records one counter-read failure (spec §4.1).
func (r *Registry) IncSamplerFailure() { r.SamplerFailures.Inc() }

// IncSamplerCircuitTrip records the sampler's circuit breaker tripping.
func (r *Registry) IncSamplerCircuitTrip() { r.SamplerCircuitTrips.Inc() }

// SetStoreQueueDepth reports the history store's pending write-queue depth.
func (r *Registry) SetStoreQueueDepth(n int) { r.StoreQueueDepth.Set(float64(n)) }

// IncStoreWriteFailure records a history store ingest giving up (either a
// non-retryable error, or retries exhausted).
func (r *Registry) IncStoreWriteFailure() { r.StoreWriteFailures.Inc() }

// SetStoreBackoffLevel reports the history store's current reconnect
// attempt number (0 once healthy).
func (r *Registry) SetStoreBackoffLevel(n int) { r.StoreBackoffLevel.Set(float64(n)) }

// SetTaskbarLostCount reports the taskbar integrator's consecutive
// taskbar-query failure count.
func (r *Registry) SetTaskbarLostCount(n int) { r.TaskbarLostCount.Set(float64(n)) }

// IncTaskbarRefresh records one ExecuteRefresh invocation.
func (r *Registry) IncTaskbarRefresh() { r.TaskbarRefreshes.Inc() }
