package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"quaver/internal/artifacts"
	"quaver/internal/config"
	"quaver/internal/daemon"
	"quaver/internal/export"
	"quaver/internal/logging"
	"quaver/internal/metrics"
	"quaver/internal/notifications"
	"quaver/internal/preflight"
	"quaver/internal/queue"
	"quaver/internal/telemetry"
	"quaver/internal/tools"
	"quaver/internal/workflow"
)

// run wires the daemon runtime and blocks until ctx is cancelled. Failed
// preflight checks are logged rather than fatal; the health endpoint keeps
// reporting them while the daemon runs.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	for _, problem := range preflightProblems(preflight.RunAll(cfg)) {
		logger.Warn("preflight check failed", logging.String("check", problem))
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", logging.Error(err))
		}
	}()

	store, err := queue.Open(cfg)
	if err != nil {
		return fmt.Errorf("open job registry: %w", err)
	}
	defer store.Close()

	artifactStore, err := artifacts.NewStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("open artifact store: %w", err)
	}

	registry, err := tools.NewRegistry(cfg)
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	notifier, err := notifications.NewService(cfg, logger)
	if err != nil {
		return fmt.Errorf("init notifications: %w", err)
	}
	defer notifier.Close()

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.New()
	}

	uploader, err := export.NewUploader(cfg, logger)
	if err != nil {
		return fmt.Errorf("init export uploader: %w", err)
	}
	if uploader.Enabled() {
		if err := uploader.EnsureBucket(ctx); err != nil {
			logger.Warn("export bucket unavailable", logging.Error(err))
		}
	}

	manager := workflow.NewManager(cfg, store, artifactStore, registry, logger,
		managerOptions(notifier, recorder, uploader)...)

	d, err := daemon.New(cfg, store, registry, manager, logger, daemonOptions(recorder)...)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		return err
	}
	logger.Info("quaverd listening", logging.String("addr", d.Addr()))

	<-ctx.Done()
	logger.Info("quaverd shutting down")
	return nil
}

// managerOptions assembles the workflow options the configuration enables.
func managerOptions(notifier notifications.Service, recorder *metrics.Recorder, uploader *export.Uploader) []workflow.Option {
	opts := []workflow.Option{workflow.WithNotifier(notifier)}
	if recorder != nil {
		opts = append(opts, workflow.WithRecorder(recorder))
	}
	if uploader.Enabled() {
		opts = append(opts, workflow.WithUploader(uploader))
	}
	return opts
}

func daemonOptions(recorder *metrics.Recorder) []daemon.Option {
	if recorder == nil {
		return nil
	}
	return []daemon.Option{daemon.WithMetricsHandler(recorder)}
}

// preflightProblems formats the failed checks for startup logging.
func preflightProblems(results []preflight.Result) []string {
	var problems []string
	for _, result := range results {
		if result.Passed {
			continue
		}
		detail := strings.TrimSpace(result.Detail)
		if detail == "" {
			detail = "check failed"
		}
		problems = append(problems, fmt.Sprintf("%s: %s", result.Name, detail))
	}
	return problems
}
