// Package logging wires zerolog to a rotating on-disk log file and exposes
// component-scoped sub-loggers, the way the rest of the example pack wires
// zerolog through a package-level instance (galpt-cake-stats/pkg/log).
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how the log file rotates. Zero values select
// the spec §6 defaults: 10 MiB per file, 3 backups.
type Config struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	ConsoleAlso bool
}

// DefaultConfig returns the spec §6 rotation policy for path.
func DefaultConfig(path string) Config {
	return Config{
		FilePath:   path,
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// New builds a root logger writing to a rotating file (and, optionally,
// also to stderr for interactive runs).
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	file := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxOr(cfg.MaxSizeMB, 10),
		MaxBackups: maxOr(cfg.MaxBackups, 3),
		Compress:   false,
	}

	var out io.Writer = file
	if cfg.ConsoleAlso {
		out = io.MultiWriter(file, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// NewDiscard returns a logger that drops everything, used by tests that
// don't want to touch the filesystem.
func NewDiscard() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Component returns a child logger tagged with the owning component, e.g.
// logging.Component(root, "sampler").
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// Adapter satisfies the narrow Warn/Error(msg, attrs) interfaces each
// component package declares for itself (sampler.Logger, speed.Logger,
// history.Logger, taskbar.Logger), so every component can share one
// zerolog.Logger without depending on zerolog's own API directly.
type Adapter struct {
	L zerolog.Logger
}

func (a Adapter) Warn(msg string, attrs map[string]any) {
	a.L.Warn().Fields(attrs).Msg(msg)
}

func (a Adapter) Error(msg string, attrs map[string]any) {
	a.L.Error().Fields(attrs).Msg(msg)
}
