// Command netspeedtray wires the Counter Sampler, Speed Controller,
// History Store, Taskbar Integrator and Graph Renderer together (spec §5).
// It owns process lifecycle: single-instance enforcement, config load,
// logging setup, graceful shutdown on SIGINT/SIGTERM.
//
// The native widget window itself (the Win32 HWND the taskbar integrator
// positions and the Controller pushes DisplaySpeed updates into) is not
// created here: no GDI+/Direct2D drawing surface exists anywhere in the
// example pack to ground a painting layer on, so that final leaf — turning
// a RenderModel/DisplaySpeed into drawn pixels — is left as the seam a
// real Win32 window would plug into (see taskbar.WindowSystem and
// speed.Sink, both ports this binary already wires against fakes/stubs
// off Windows).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	nerrors "grimm.is/netspeedtray/internal/errors"
	"grimm.is/netspeedtray/internal/graph"
	"grimm.is/netspeedtray/internal/history"
	"grimm.is/netspeedtray/internal/logging"
	"grimm.is/netspeedtray/internal/metrics"
	"grimm.is/netspeedtray/internal/sampler"
	"grimm.is/netspeedtray/internal/singleinstance"
	"grimm.is/netspeedtray/internal/speed"
	"grimm.is/netspeedtray/internal/taskbar"
	"grimm.is/netspeedtray/internal/winenv"

	"grimm.is/netspeedtray/internal/config"
)

const appName = "NetSpeedTray"

// samplerShutdownBudget and dbShutdownBudget are the §5 cancellation
// timeouts: the UI waits this long for each worker to flush before
// forcing termination with a log warning.
const (
	samplerShutdownBudget = 1 * time.Second
	dbShutdownBudget      = 2 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	lock, ok, err := singleinstance.Acquire(singleinstance.MutexName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "single-instance check failed:", err)
		return 1
	}
	if !ok {
		fmt.Fprintln(os.Stderr, appName+" is already running")
		return 1
	}
	defer lock.Release()

	appDir, err := appDataDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolving app data directory:", err)
		return 1
	}
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "creating app data directory:", err)
		return 1
	}

	rootLogger := logging.New(logging.DefaultConfig(filepath.Join(appDir, "netspeedtray.log")))
	log := logging.Adapter{L: rootLogger}

	cfg, err := config.Load(filepath.Join(appDir, "config.json"))
	if err != nil {
		rootLogger.Warn().Err(err).Msg("config load failed, continuing with defaults")
	}

	reg := metrics.New()
	sessionID := uuid.New()
	rootLogger.Info().Str("session_id", sessionID.String()).Msg("starting")

	if theme, err := winenv.ReadTheme(); err != nil {
		rootLogger.Warn().Err(err).Msg("reading shell theme failed, falling back to light")
	} else {
		rootLogger.Info().Bool("apps_use_light_theme", theme.AppsUseLightTheme).Msg("shell theme detected")
	}

	store, err := history.Open(filepath.Join(appDir, "history.sqlite"), log, reg)
	if err != nil {
		rootLogger.Error().Err(err).Msg("failed to open history store")
		return 1
	}
	// Closed explicitly below with a shutdown budget, not deferred: Close
	// is not safe to call twice (it closes stopCh), and shutdownWithBudget
	// already guarantees it runs before run() returns.

	sampReader := sampler.NewWindowsReader()
	samp := sampler.New(sampReader, log, reg)
	snapshots, samplerFatal := samp.Start(durationFromSeconds(cfg.PollIntervalSeconds))

	widgetSink := &logSink{logger: rootLogger}
	controller := speed.New(cfg, widgetSink, store, log)

	ws := taskbar.NewWindowSystem(0)
	integrator := taskbar.New(ws, log, reg, 0, cfg.KeepVisibleFullscreen)

	bootTime := time.Now()
	graphWorker := graph.NewWorker(store, bootTime, 150*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go controller.Run(snapshots)
	go graphWorker.Run(ctx)

	refreshTicker := time.NewTicker(1 * time.Second)
	defer refreshTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-refreshTicker.C:
				integrator.ExecuteRefresh()
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		rootLogger.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	case err := <-samplerFatal:
		rootLogger.Error().Err(err).Msg("sampler circuit breaker tripped, shutting down")
	}

	cancel()
	shutdownWithBudget(rootLogger, "sampler", samplerShutdownBudget, samp.Stop)
	shutdownWithBudget(rootLogger, "history store", dbShutdownBudget, func() { store.Close() })

	return 0
}

// appDataDir resolves the per-user application data directory (spec §6).
func appDataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", nerrors.Wrap(err, nerrors.KindFatal, "resolving user config dir")
	}
	return filepath.Join(base, appName), nil
}

func durationFromSeconds(s float64) time.Duration {
	if s <= 0 {
		s = 1.0
	}
	return time.Duration(s * float64(time.Second))
}

// shutdownWithBudget runs fn in a goroutine and waits up to budget before
// logging a warning and returning anyway (spec §5 cancellation: "a
// second-level timeout forces termination with a log warning").
func shutdownWithBudget(logger zerolog.Logger, name string, budget time.Duration, fn func()) {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(budget):
		logger.Warn().Str("component", name).Dur("budget", budget).Msg("shutdown exceeded budget, forcing termination")
	}
}

// logSink is the stand-in speed.Sink until a real widget window exists:
// it logs display updates at debug level rather than painting anything,
// so the rest of the pipeline (Sampler -> Controller -> Store) is fully
// exercised end to end without a GUI.
type logSink struct {
	logger zerolog.Logger
}

func (s *logSink) Display(d speed.DisplaySpeed) {
	s.logger.Debug().Float64("upload_mbps", d.UploadMbps).Float64("download_mbps", d.DownloadMbps).Msg("display update")
}
