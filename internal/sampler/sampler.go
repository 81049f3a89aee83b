// Package sampler polls OS per-NIC byte counters on a fixed cadence and
// emits raw counter snapshots (spec §4.1). It never computes rates itself
// — that is the Speed Controller's job — and it never blocks on wall
// clock: pacing is driven by a monotonic clock via a time.Timer, with no
// drift compensation.
package sampler

import (
	"sync"
	"time"

	nerrors "grimm.is/netspeedtray/internal/errors"
	"grimm.is/netspeedtray/internal/supervisor"
)

const (
	MinInterval = 100 * time.Millisecond
	MaxInterval = 10 * time.Second

	// consecutiveFailureThreshold is the circuit-breaker trip point: ten
	// consecutive counter-read failures stop the sampler and surface a
	// fatal error, per spec §4.1.
	consecutiveFailureThreshold = 10
)

// IfaceCounters is the raw byte counter pair for one interface at one
// instant.
type IfaceCounters struct {
	BytesSent uint64
	BytesRecv uint64
}

// CounterSnapshot is produced by the sampler and consumed/discarded by the
// Speed Controller after it derives a Rate (spec §3).
type CounterSnapshot struct {
	MonotonicTimeS float64
	PerIface       map[string]IfaceCounters
}

// Reader reads the current per-interface byte counters from the OS. The
// platform-specific implementation lives in sampler_windows.go; other
// platforms get a stub (sampler_other.go) so the module still builds.
type Reader interface {
	ReadCounters() (map[string]IfaceCounters, error)
}

// Sampler owns the poll goroutine and a monotonic clock.
type Sampler struct {
	reader  Reader
	logger  Logger
	metrics Metrics

	mu       sync.Mutex
	interval time.Duration

	breaker *supervisor.Breaker

	stopCh chan struct{}
	wg     sync.WaitGroup

	start time.Time // reference instant for MonotonicTimeS
}

// Logger is the minimal structured-logging surface the sampler needs,
// satisfied by a zerolog.Logger method set via internal/logging.
type Logger interface {
	Warn(msg string, attrs map[string]any)
	Error(msg string, attrs map[string]any)
}

// Metrics is the subset of metrics.Registry the sampler publishes
// failure/circuit-trip counts to. A nil Metrics is fine: every call site
// below checks before using it, the same way a nil Logger is tolerated.
type Metrics interface {
	IncSamplerFailure()
	IncSamplerCircuitTrip()
}

// New constructs a Sampler reading counters via reader. metrics may be nil.
func New(reader Reader, logger Logger, metrics Metrics) *Sampler {
	return &Sampler{
		reader:  reader,
		logger:  logger,
		metrics: metrics,
		breaker: supervisor.NewBreaker(consecutiveFailureThreshold),
		start:   time.Now(),
	}
}

// clampInterval enforces the [0.1s, 10s] contract from spec §4.1.
func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	if d > MaxInterval {
		return MaxInterval
	}
	return d
}

// Start begins polling at interval and returns a channel of snapshots.
// The channel is closed when Stop is called or the circuit breaker trips.
// fatal receives a single error if the stream stopped because of the
// circuit breaker; it is never sent to on a clean Stop.
func (s *Sampler) Start(interval time.Duration) (snapshots <-chan CounterSnapshot, fatal <-chan error) {
	s.mu.Lock()
	s.interval = clampInterval(interval)
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	out := make(chan CounterSnapshot, 16)
	fatalCh := make(chan error, 1)

	s.wg.Add(1)
	go s.run(out, fatalCh)

	return out, fatalCh
}

// SetInterval updates the poll cadence without restarting the loop.
func (s *Sampler) SetInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = clampInterval(interval)
}

func (s *Sampler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Stop signals the poll loop to exit and waits for it to finish (bounded
// by the caller — spec §5 gives the UI up to 1s before forcing
// termination; Stop itself blocks until the loop notices stopCh).
func (s *Sampler) Stop() {
	s.mu.Lock()
	ch := s.stopCh
	s.mu.Unlock()
	if ch == nil {
		return
	}
	close(ch)
	s.wg.Wait()
}

func (s *Sampler) run(out chan<- CounterSnapshot, fatal chan<- error) {
	defer s.wg.Done()
	defer close(out)

	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		counters, err := s.reader.ReadCounters()
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("counter read failed", map[string]any{"error": err.Error()})
			}
			if s.metrics != nil {
				s.metrics.IncSamplerFailure()
			}
			if s.breaker.RecordFailure() {
				fatalErr := nerrors.Wrap(err, nerrors.KindFatal,
					"sampler circuit breaker tripped after 10 consecutive failures")
				fatalErr = nerrors.WithAttrs(fatalErr, map[string]any{
					"consecutive_failures": s.breaker.Count(),
					"threshold":            consecutiveFailureThreshold,
				})
				if s.metrics != nil {
					s.metrics.IncSamplerCircuitTrip()
				}
				select {
				case fatal <- fatalErr:
				default:
				}
				return
			}
			s.sleep(stopCh)
			continue
		}
		s.breaker.RecordSuccess()

		if len(counters) == 0 {
			// Empty snapshot: the read succeeded, so the breaker count
			// was already reset above; nothing is emitted this tick
			// (spec §4.1: an empty snapshot is skipped).
			s.sleep(stopCh)
			continue
		}

		snap := CounterSnapshot{
			MonotonicTimeS: time.Since(s.start).Seconds(),
			PerIface:       counters,
		}

		select {
		case out <- snap:
		case <-stopCh:
			return
		}

		if !s.sleep(stopCh) {
			return
		}
	}
}

// sleep blocks for the current interval or until stopCh fires, returning
// false if it was woken by stopCh.
func (s *Sampler) sleep(stopCh <-chan struct{}) bool {
	t := time.NewTimer(s.currentInterval())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stopCh:
		return false
	}
}
