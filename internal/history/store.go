// Package history implements the tiered History Store (spec §4.3): a
// cooperative single-writer, many-reader time-series engine over an
// embedded SQLite database, with eager raw/minute/hour downsampling and a
// retention grace protocol.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	nerrors "grimm.is/netspeedtray/internal/errors"
	"grimm.is/netspeedtray/internal/speed"
)

const (
	// writeQueueCapacity bounds the in-memory queue of pending ingest
	// batches; beyond this, Enqueue drops the oldest queued batch with a
	// warning rather than blocking the Speed Controller.
	writeQueueCapacity = 64

	backoffBase    = 100 * time.Millisecond
	backoffMax     = 30 * time.Second
	backoffMaxTries = 5
)

// Logger is the minimal structured-logging surface the store needs.
type Logger interface {
	Warn(msg string, attrs map[string]any)
	Error(msg string, attrs map[string]any)
}

// Metrics is the subset of metrics.Registry the store publishes write
// queue depth/failure/backoff state to. A nil Metrics is fine: every
// call site checks before using it, the same way a nil Logger is.
type Metrics interface {
	SetStoreQueueDepth(n int)
	IncStoreWriteFailure()
	SetStoreBackoffLevel(n int)
}

// Store owns the SQL connection and a dedicated worker goroutine that
// serializes every ingest batch through a task queue. RunMaintenance does
// not go through that queue: it writes on the calling goroutine.
type Store struct {
	db      *sql.DB
	path    string
	logger  Logger
	metrics Metrics

	writeCh chan writeTask
	stopCh  chan struct{}
	wg      sync.WaitGroup

	listenersMu sync.Mutex
	listeners   []func()
}

type writeTask struct {
	batch []speed.SpeedSample
}

// Open opens or creates the history database at path, migrating it to the
// latest schema version if needed, and starts the writer goroutine.
// metrics may be nil.
func Open(path string, logger Logger, metrics Metrics) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, nerrors.Wrap(err, nerrors.KindFatal, "opening history database")
	}

	version, err := readSchemaVersion(db)
	if err != nil {
		db.Close()
		return nil, nerrors.Wrap(err, nerrors.KindSchema, "reading schema version")
	}

	if version == 0 {
		if err := createFreshSchema(db); err != nil {
			db.Close()
			return nil, nerrors.Wrap(err, nerrors.KindSchema, "creating fresh schema")
		}
	} else if version < latestSchemaVersion {
		if err := migrateTo(db, path, version); err != nil {
			db.Close()
			return nil, nerrors.Wrap(err, nerrors.KindSchema, "migrating schema")
		}
	}

	s := &Store{
		db:      db,
		path:    path,
		logger:  logger,
		metrics: metrics,
		writeCh: make(chan writeTask, writeQueueCapacity),
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writerLoop()
	return s, nil
}

// Close stops the writer goroutine and closes the connection.
func (s *Store) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.db.Close()
}

// OnUpdate registers a listener invoked after every successful ingest
// commit (spec §4.3's database_updated event).
func (s *Store) OnUpdate(fn func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notifyUpdated() {
	s.listenersMu.Lock()
	listeners := append([]func(){}, s.listeners...)
	s.listenersMu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Enqueue queues a batch of samples for ingestion. It never blocks beyond
// a bounded in-memory queue: when full, the oldest pending batch is
// dropped with a warning (spec §4.2/§4.3).
func (s *Store) Enqueue(batch []speed.SpeedSample) error {
	if len(batch) == 0 {
		return nil
	}
	task := writeTask{batch: batch}

	defer func() {
		if s.metrics != nil {
			s.metrics.SetStoreQueueDepth(len(s.writeCh))
		}
	}()

	select {
	case s.writeCh <- task:
		return nil
	default:
	}

	select {
	case <-s.writeCh:
		if s.logger != nil {
			s.logger.Warn("dropping oldest history write batch, queue full", nil)
		}
	default:
	}

	select {
	case s.writeCh <- task:
	default:
	}
	return nil
}

func (s *Store) writerLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			s.drainOnShutdown()
			return
		case task := <-s.writeCh:
			s.ingestWithBackoff(task.batch)
		}
	}
}

func (s *Store) drainOnShutdown() {
	for {
		select {
		case task := <-s.writeCh:
			s.ingestWithBackoff(task.batch)
		default:
			return
		}
	}
}

// ingestWithBackoff retries a connection failure with exponential
// backoff (base 100ms, max 30s, up to 5 attempts) before giving up and
// logging the batch as dropped.
func (s *Store) ingestWithBackoff(batch []speed.SpeedSample) {
	delay := backoffBase
	for attempt := 1; attempt <= backoffMaxTries; attempt++ {
		err := s.ingest(batch)
		if err == nil {
			if s.metrics != nil {
				s.metrics.SetStoreBackoffLevel(0)
			}
			s.notifyUpdated()
			return
		}
		if !isConnectionError(err) {
			if s.logger != nil {
				s.logger.Error("history ingest failed", map[string]any{"error": err.Error()})
			}
			if s.metrics != nil {
				s.metrics.IncStoreWriteFailure()
			}
			return
		}
		if s.metrics != nil {
			s.metrics.SetStoreBackoffLevel(attempt)
		}
		if attempt == backoffMaxTries {
			attrs := map[string]any{"attempts": attempt, "batch_size": len(batch)}
			tagged := nerrors.WithAttrs(nerrors.Wrap(err, nerrors.KindTransient, "history ingest exhausted retries"), attrs)
			if s.logger != nil {
				s.logger.Error(tagged.Error(), nerrors.Attrs(tagged))
			}
			if s.metrics != nil {
				s.metrics.IncStoreWriteFailure()
			}
			return
		}
		time.Sleep(delay)
		delay *= 2
		if delay > backoffMax {
			delay = backoffMax
		}
	}
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sub := range []string{"database is locked", "disk I/O error", "unable to open database file", "connection"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// ingest writes one batch via INSERT OR IGNORE, idempotent on
// (epoch_seconds, iface_name).
func (s *Store) ingest(batch []speed.SpeedSample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning ingest transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO raw(epoch_seconds, iface_name, upload_bps, download_bps)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing ingest statement: %w", err)
	}
	defer stmt.Close()

	for _, sample := range batch {
		if _, err := stmt.Exec(sample.EpochSeconds, sample.IfaceName, sample.UploadBps, sample.DownloadBps); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting sample: %w", err)
		}
	}

	return tx.Commit()
}
