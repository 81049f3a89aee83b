// Package errors provides the structured error taxonomy used across
// netspeedtray's core (sampler, speed controller, history store, taskbar
// integrator and graph renderer): transient I/O, configuration, schema,
// user-visible and fatal failures, each optionally carrying the same
// attrs map[string]any shape every component's Logger interface already
// takes, so a caller can hand one value straight to both a log call and
// an error without re-deriving it twice.
package errors

import (
	"errors"
	"fmt"
)

// Kind defines the category of error, mirroring the taxonomy in spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers counter-read failures, taskbar queries and DB
	// busy errors: log-and-retry, bounded by a circuit breaker.
	KindTransient
	// KindConfig covers an invalid or out-of-range configuration value:
	// substitute the default, log at WARNING, continue.
	KindConfig
	// KindSchema covers an unknown DB/config version or a corrupt file:
	// backup then rebuild, never silently drop user data.
	KindSchema
	// KindUserVisible covers failures that must surface to the user
	// (export permission denied, log file missing).
	KindUserVisible
	// KindFatal covers conditions from which the process cannot recover
	// (another instance running, DB unusable after retries).
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindConfig:
		return "config"
	case KindSchema:
		return "schema"
	case KindUserVisible:
		return "user_visible"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// taggedError is a Kind-tagged error wrapping an optional cause plus an
// optional attrs map. It's unexported: callers only ever see the `error`
// interface plus the Kind/Attrs/Wrap accessors below, the same way the
// rest of the module hides concrete types behind small interfaces
// (speed.BatchSink, graph.HistorySource).
type taggedError struct {
	kind  Kind
	msg   string
	cause error
	attrs map[string]any
}

func (e *taggedError) Error() string {
	if e.cause != nil {
		if e.msg == "" {
			return e.cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *taggedError) Unwrap() error { return e.cause }

// New creates a new error of the specified kind.
func New(kind Kind, msg string) error {
	return &taggedError{kind: kind, msg: msg}
}

// Errorf creates a new error of the specified kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) error {
	return &taggedError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause as a new error of the specified kind. A nil cause
// returns nil, so call sites can write `return errors.Wrap(err, ...)`
// directly after an `if err != nil` without an extra branch.
func Wrap(cause error, kind Kind, msg string) error {
	if cause == nil {
		return nil
	}
	return &taggedError{kind: kind, msg: msg, cause: cause}
}

// Wrapf wraps cause as a new error of the specified kind with a formatted
// message.
func Wrapf(cause error, kind Kind, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &taggedError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// WithAttrs attaches attrs to err in one call, matching the attrs
// map[string]any shape every Logger interface in this module already
// takes (sampler.Logger, speed.Logger, history.Logger, taskbar.Logger):
// a caller building a log line's fields can pass the same map straight
// through to WithAttrs instead of building a second, parallel
// representation one key at a time. If err's chain holds no tagged error,
// err is promoted to a KindUnknown tagged error that keeps err's message
// unchanged and wraps err, and that new value is returned. Otherwise the
// first tagged error in the chain is updated in place and err itself is
// returned. Existing keys are overwritten by attrs, new keys are added.
func WithAttrs(err error, attrs map[string]any) error {
	if err == nil || len(attrs) == 0 {
		return err
	}
	var e *taggedError
	if !errors.As(err, &e) {
		e = &taggedError{kind: KindUnknown, cause: err}
		err = e
	}
	if e.attrs == nil {
		e.attrs = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		e.attrs[k] = v
	}
	return err
}

// Attrs returns the attrs map attached directly to err via WithAttrs, or
// nil if err isn't a tagged error or carries none. Unlike a chain-walk
// over Unwrap, this only looks at the outermost tagged error: in
// practice a single WithAttrs call at the point of failure already has
// every field worth logging (iface, attempt, db_version) in hand, so
// there's nothing further down the chain worth merging.
func Attrs(err error) map[string]any {
	var e *taggedError
	if errors.As(err, &e) {
		return e.attrs
	}
	return nil
}

// GetKind returns the Kind of err, or KindUnknown if it isn't ours.
func GetKind(err error) Kind {
	var e *taggedError
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain matching target's type.
func As(err error, target any) bool { return errors.As(err, target) }

// Unwrap returns the result of calling err's Unwrap method, if any.
func Unwrap(err error) error { return errors.Unwrap(err) }
