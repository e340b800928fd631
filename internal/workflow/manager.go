package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"quaver/internal/artifacts"
	"quaver/internal/config"
	"quaver/internal/export"
	"quaver/internal/logging"
	"quaver/internal/metrics"
	"quaver/internal/notifications"
	"quaver/internal/queue"
	"quaver/internal/stageexec"
	"quaver/internal/tools"
)

// Manager coordinates job submission, worker processing, cancellation, and
// artifact lifecycle.
type Manager struct {
	cfg       *config.Config
	store     queue.Store
	artifacts *artifacts.Store
	registry  *tools.Registry
	executor  *stageexec.Executor
	notifier  notifications.Service
	recorder  *metrics.Recorder
	uploader  *export.Uploader
	logger    *slog.Logger
	tracer    trace.Tracer

	pollInterval time.Duration
	heartbeat    *heartbeatMonitor

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	inflight map[string]context.CancelFunc
}

// Option configures optional manager collaborators.
type Option func(*Manager)

// WithNotifier replaces the default no-op notification service.
func WithNotifier(svc notifications.Service) Option {
	return func(m *Manager) {
		if svc != nil {
			m.notifier = svc
		}
	}
}

// WithRecorder attaches a metrics recorder. A nil recorder disables
// instrument updates.
func WithRecorder(recorder *metrics.Recorder) Option {
	return func(m *Manager) { m.recorder = recorder }
}

// WithUploader attaches an artifact export uploader. A nil uploader disables
// export.
func WithUploader(uploader *export.Uploader) Option {
	return func(m *Manager) { m.uploader = uploader }
}

// NewManager constructs a workflow manager over the given registry backend,
// artifact store, and tool registry.
func NewManager(cfg *config.Config, store queue.Store, artifactStore *artifacts.Store, registry *tools.Registry, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		artifacts:    artifactStore,
		registry:     registry,
		notifier:     notifications.Noop(),
		logger:       logging.NewComponentLogger(logger, "workflow"),
		tracer:       otel.Tracer("quaver/workflow"),
		pollInterval: time.Duration(cfg.Workers.QueuePollInterval) * time.Second,
		inflight:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.executor = stageexec.New(cfg, artifactStore, registry, m.recorder, logger)
	m.heartbeat = &heartbeatMonitor{
		store:    store,
		logger:   m.logger,
		interval: time.Duration(cfg.Workers.HeartbeatInterval) * time.Second,
		timeout:  time.Duration(cfg.Workers.HeartbeatTimeout) * time.Second,
	}
	if m.pollInterval <= 0 {
		m.pollInterval = time.Second
	}
	return m
}

func (m *Manager) workerID(index int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "quaver"
	}
	return fmt.Sprintf("%s-%d-w%d", host, os.Getpid(), index)
}

func (m *Manager) trackJob(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	m.inflight[id] = cancel
	m.mu.Unlock()
}

func (m *Manager) untrackJob(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// cancelInflight fires the in-process stage context for a job this manager
// is currently executing. It reports whether such a job was found.
func (m *Manager) cancelInflight(id string) bool {
	m.mu.Lock()
	cancel, ok := m.inflight[id]
	m.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
