// Package app assembles the offline data layer from configuration.
// The desktop bridge, the CLI and the mobile bridge all build their runtime here.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/kimhsiao/fieldcount/backend/internal/cache"
	"github.com/kimhsiao/fieldcount/backend/internal/capture"
	"github.com/kimhsiao/fieldcount/backend/internal/config"
	"github.com/kimhsiao/fieldcount/backend/internal/connectivity"
	"github.com/kimhsiao/fieldcount/backend/internal/db"
	apperrors "github.com/kimhsiao/fieldcount/backend/internal/errors"
	"github.com/kimhsiao/fieldcount/backend/internal/logging"
	"github.com/kimhsiao/fieldcount/backend/internal/models"
	"github.com/kimhsiao/fieldcount/backend/internal/offline"
	"github.com/kimhsiao/fieldcount/backend/internal/remote"
	syncpkg "github.com/kimhsiao/fieldcount/backend/internal/sync"
	"github.com/kimhsiao/fieldcount/backend/internal/sync/queue"
	"github.com/kimhsiao/fieldcount/backend/internal/sync/scheduler"
	"github.com/kimhsiao/fieldcount/backend/internal/telemetry"
)

// App is one assembled runtime.
type App struct {
	Config      *config.Config
	DB          *db.DB
	Log         *queue.ActionLog
	Cache       *cache.ResponseCache
	API         *remote.HTTPClient
	Monitor     *connectivity.Monitor
	Prober      *connectivity.Prober
	Coordinator *syncpkg.Coordinator
	Scheduler   *scheduler.Scheduler
	Metrics     *telemetry.Metrics
	Facade      *offline.Facade

	mu         sync.Mutex
	capability capture.Capability
	scanner    *capture.Engine
	stopProbe  context.CancelFunc
	probeDone  chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// SetupLogging initializes the global logger from cfg.
func SetupLogging(cfg config.Logging) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	logging.Init(out, level)
	return nil
}

// New opens the database and wires every component. The device starts offline
// until Start probes the Remote API or the platform reports connectivity.
func New(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	database, err := db.OpenAndMigrate(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := db.NewStore(database.DB)
	log := queue.NewActionLog(store, cfg.Sync.MaxPending)
	rc := cache.New(store, cache.WithMaxAge(cfg.Cache.MaxAge.Std()))
	api := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Timeout.Std())
	monitor := connectivity.NewMonitor(false)
	coordinator := syncpkg.NewCoordinator(log, api,
		syncpkg.WithDispatchTimeout(cfg.Sync.DispatchTimeout.Std()))
	sched := scheduler.NewScheduler(coordinator, log,
		&scheduler.SchedulerConfig{RetryInterval: cfg.Sync.RetryInterval.Std()})

	metrics := telemetry.New(cfg.Telemetry.Enabled)
	if err := metrics.WatchPending(log.Size); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	a := &App{
		Config:      cfg,
		DB:          database,
		Log:         log,
		Cache:       rc,
		API:         api,
		Monitor:     monitor,
		Prober:      connectivity.NewProber(monitor, cfg.Remote.BaseURL, cfg.Sync.ProbeInterval.Std(), nil),
		Coordinator: coordinator,
		Scheduler:   sched,
		Metrics:     metrics,
	}
	a.Facade = offline.New(offline.Deps{
		Monitor:     monitor,
		Log:         log,
		Cache:       rc,
		Coordinator: coordinator,
		API:         api,
		Scheduler:   sched,
		Metrics:     metrics,
	})

	logging.Info("Offline data layer assembled",
		map[string]interface{}{"data_dir": cfg.DataDir, "remote": cfg.Remote.BaseURL})
	return a, nil
}

// Start initializes the facade. With probe set, the health prober drives connectivity;
// otherwise the platform is expected to call Monitor.Set.
func (a *App) Start(ctx context.Context, probe bool) error {
	if err := a.Facade.Init(ctx); err != nil {
		return err
	}
	if !probe {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopProbe != nil {
		return nil
	}
	probeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopProbe = cancel
	a.probeDone = make(chan struct{})
	go func() {
		defer close(a.probeDone)
		a.Prober.Run(probeCtx)
	}()
	return nil
}

// Capture probes the configured camera once and routes every scan to handler.
// Later calls return the first result. Manual entry works either way.
func (a *App) Capture(ctx context.Context, handler capture.ScanHandler) capture.Capability {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.capability != nil {
		return a.capability
	}

	cfg := a.Config.Capture
	opts := []capture.Option{
		capture.WithFrameInterval(cfg.FrameInterval.Std()),
		capture.WithCooldown(cfg.Cooldown.Std()),
		capture.WithContinuous(cfg.Continuous),
		capture.WithMaxFrameWidth(cfg.MaxFrameWidth),
		capture.WithFeedback(capture.LogFeedback{}),
	}

	var camera capture.Camera
	if cfg.SnapshotURL != "" {
		camera = capture.NewHTTPSnapshotCamera(cfg.SnapshotURL, nil)
	}
	a.capability = capture.Probe(ctx, camera, capture.NewZXingDetector(), opts...)

	switch c := a.capability.(type) {
	case capture.Supported:
		a.scanner = c.Engine
	case capture.Unsupported:
		logging.Info("Camera scanning unavailable, manual entry only",
			map[string]interface{}{"reason": c.Reason})
		a.scanner = capture.NewEngine(nil, nil, opts...)
	}
	a.Facade.AttachCapture(a.scanner, handler)
	return a.capability
}

func (a *App) engine() (*capture.Engine, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, supported := a.capability.(capture.Supported)
	return a.scanner, supported
}

// StartScan starts camera capture. It fails with CAPTURE_UNSUPPORTED when the probe
// found no usable camera, and with INVALID_INPUT before Capture has been called.
func (a *App) StartScan(ctx context.Context) error {
	e, supported := a.engine()
	if e == nil {
		return apperrors.New(apperrors.ErrInvalid, "capture not initialized")
	}
	if !supported {
		return apperrors.New(apperrors.ErrCaptureUnsupported, "camera scanning is not supported on this device")
	}
	return e.Start(ctx)
}

// StopScan stops camera capture if it is running.
func (a *App) StopScan() {
	if e, supported := a.engine(); supported {
		e.Stop()
	}
}

// ManualScan emits a typed barcode through the same path as a camera scan.
func (a *App) ManualScan(code string) error {
	e, _ := a.engine()
	if e == nil {
		return apperrors.New(apperrors.ErrInvalid, "capture not initialized")
	}
	return e.ManualInput(code)
}

// ScanEvents returns the buffered scan event channel, or nil before Capture.
func (a *App) ScanEvents() <-chan models.ScanEvent {
	e, _ := a.engine()
	if e == nil {
		return nil
	}
	return e.Events()
}

// Close disposes the facade, stops probing and closes the database.
// Later calls return the result of the first.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		stop, done := a.stopProbe, a.probeDone
		a.stopProbe, a.probeDone = nil, nil
		a.mu.Unlock()

		if stop != nil {
			stop()
			<-done
		}
		a.Facade.Dispose()
		a.closeErr = a.DB.Close()
	})
	return a.closeErr
}
