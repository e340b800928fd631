package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"quaver/internal/config"
	"quaver/internal/logging"
	"quaver/internal/metrics"
	"quaver/internal/queue"
	"quaver/internal/tools"
	"quaver/internal/workflow"
)

// Daemon owns the background services and enforces single-instance
// execution through a lock file in the state directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    queue.Store
	registry *tools.Registry
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock

	api *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Option configures optional daemon collaborators.
type Option func(*Daemon)

// WithMetricsHandler exposes the recorder's registry on /metrics.
func WithMetricsHandler(recorder *metrics.Recorder) Option {
	return func(d *Daemon) {
		if d.api != nil {
			d.api.metrics = recorder.Handler()
		}
	}
}

// New constructs a daemon over initialized collaborators.
func New(cfg *config.Config, store queue.Store, registry *tools.Registry, manager *workflow.Manager, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || registry == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, tool registry, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		registry: registry,
		workflow: manager,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the instance lock, launches the workflow manager, and
// brings up the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", d.lockPath, err)
	}
	if !ok {
		return fmt.Errorf("another quaver daemon holds %s", d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		d.workflow.Stop()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.Int("pid", os.Getpid()),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// Stop shuts down the API, drains the workflow manager, and releases the
// instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the registry backend.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr returns the API listen address, available once Start succeeded.
// Useful when the configured bind uses an ephemeral port.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Health aggregates workflow, registry, and tool readiness.
func (d *Daemon) Health(ctx context.Context) HealthResponse {
	report := d.workflow.Health(ctx)
	resp := HealthResponse{
		Running:  d.running.Load(),
		PID:      os.Getpid(),
		Workers:  report.Workers,
		Queue:    queueCountsView(report.Queue),
		Database: databaseView(report.Database),
		Disk:     diskView(report.Disk),
		Problems: report.Problems,
	}
	for _, h := range d.registry.Health(ctx) {
		resp.Tools = append(resp.Tools, ToolHealthView(h))
		if !h.Ready {
			resp.Problems = append(resp.Problems, fmt.Sprintf("tool %s: %s", h.Tool, h.Detail))
		}
	}
	resp.Healthy = len(resp.Problems) == 0
	return resp
}
