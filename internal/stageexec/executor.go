package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"quaver/internal/artifacts"
	"quaver/internal/config"
	"quaver/internal/logging"
	"quaver/internal/metrics"
	"quaver/internal/pipeline"
	"quaver/internal/queue"
	"quaver/internal/services"
	"quaver/internal/tools"
)

// Executor runs pipeline stages with timeout, retry, and atomic artifact
// hand-off.
type Executor struct {
	cfg      *config.Config
	store    *artifacts.Store
	registry *tools.Registry
	recorder *metrics.Recorder
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// Result reports one stage execution.
type Result struct {
	Artifact queue.ArtifactRef
	Attempts int
}

// New builds a stage executor. The metrics recorder may be nil.
func New(cfg *config.Config, store *artifacts.Store, registry *tools.Registry, recorder *metrics.Recorder, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		recorder: recorder,
		logger:   logging.NewComponentLogger(logger, "stageexec"),
		sleep:    sleepContext,
	}
}

// Run executes the stage at index for the given job and publishes its
// output. On failure the returned Result still carries the attempt count so
// the caller can persist it on the stage record.
func (e *Executor) Run(ctx context.Context, job *queue.Job, index int) (Result, error) {
	var result Result
	if job == nil {
		return result, services.Wrap(services.ErrInternal, "", "run stage", "nil job", nil)
	}

	def, err := pipeline.DefinitionFor(job.Kind)
	if err != nil {
		return result, services.Wrap(services.ErrInternal, "", "run stage", "unknown pipeline kind", err)
	}
	if index < 0 || index >= len(def.Stages) {
		return result, services.Wrap(services.ErrInternal, "", "run stage",
			fmt.Sprintf("stage index %d out of range for %s", index, job.Kind), nil)
	}
	stageDef := def.Stages[index]

	stageCtx := services.WithStage(ctx, stageDef.Name)
	logger := logging.WithContext(stageCtx, e.logger)

	tool, err := e.registry.Tool(stageDef.Tool)
	if err != nil {
		return result, err
	}
	inputPath, err := e.inputPath(job, def, index)
	if err != nil {
		return result, err
	}
	scratch, err := e.store.Scratch(job.ID, stageDef.Name)
	if err != nil {
		return result, services.Wrap(services.ErrInternal, stageDef.Name, "prepare scratch", "cannot create tool workspace", err)
	}

	inv := tools.Invocation{
		InputPath:  inputPath,
		OutputPath: filepath.Join(scratch, stageDef.Output.FileName()),
		Options:    job.Options,
	}
	timeout := e.stageTimeout(tool)
	maxToolFailures := e.toolFailureAttempts(tool)

	logger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("tool", tool.Command()),
		logging.Duration("timeout", timeout),
	)

	started := time.Now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		lastErr = e.runOnce(stageCtx, tool, inv, timeout)
		if lastErr == nil {
			ref, pubErr := e.store.Publish(job.ID, stageDef.Output, inv.OutputPath)
			if pubErr != nil {
				lastErr = services.Wrap(services.ErrInternal, stageDef.Name, "publish output", "artifact hand-off failed", pubErr)
				break
			}
			if err := e.store.RemoveScratch(job.ID, stageDef.Name); err != nil {
				logger.Warn("scratch cleanup failed", logging.Error(err))
			}
			result.Artifact = ref
			e.recorder.StageFinished(stageDef.Name, "succeeded", time.Since(started))
			logger.Info("stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Int("attempts", attempt),
				logging.Int64("output_bytes", ref.SizeBytes),
			)
			return result, nil
		}

		if errors.Is(lastErr, context.Canceled) {
			break
		}
		kind := services.Classify(lastErr)
		if !retryable(kind, attempt, maxToolFailures) {
			break
		}

		e.recorder.StageRetried(stageDef.Name, kind.String())
		delay := e.backoff(attempt)
		logger.Warn("stage attempt failed; retrying",
			logging.String(logging.FieldEventType, "stage_retry"),
			logging.String(logging.FieldErrorKind, kind.String()),
			logging.Int("attempt", attempt),
			logging.Duration("backoff", delay),
			logging.Error(lastErr),
		)
		if err := e.sleep(stageCtx, delay); err != nil {
			lastErr = err
			break
		}
	}

	if err := e.store.RemoveScratch(job.ID, stageDef.Name); err != nil {
		logger.Warn("scratch cleanup failed", logging.Error(err))
	}
	if errors.Is(lastErr, context.Canceled) {
		e.recorder.StageFinished(stageDef.Name, "cancelled", time.Since(started))
		logger.Info("stage cancelled",
			logging.String(logging.FieldEventType, "stage_cancelled"),
			logging.Int("attempts", result.Attempts),
		)
		return result, lastErr
	}
	e.recorder.StageFinished(stageDef.Name, "failed", time.Since(started))
	logger.Error("stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldErrorKind, services.Classify(lastErr).String()),
		logging.Int("attempts", result.Attempts),
		logging.Error(lastErr),
	)
	return result, lastErr
}

func (e *Executor) runOnce(ctx context.Context, tool tools.Tool, inv tools.Invocation, timeout time.Duration) error {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return tool.Run(runCtx, inv)
}

// inputPath resolves the stage input: the ingested source artifact for the
// first stage, the previous stage's published artifact otherwise.
func (e *Executor) inputPath(job *queue.Job, def pipeline.Definition, index int) (string, error) {
	stageName := def.Stages[index].Name
	if index == 0 {
		namespace, err := e.store.Namespace(job.ID)
		if err != nil {
			return "", services.Wrap(services.ErrInternal, stageName, "locate input", "invalid job namespace", err)
		}
		path := filepath.Join(namespace, def.Source.FileName())
		if _, err := os.Stat(path); err != nil {
			return "", services.Wrap(services.ErrInternal, stageName, "locate input", "ingested source artifact is missing", err)
		}
		return path, nil
	}

	prev := job.Stages[index-1]
	if prev.Status != queue.StageSucceeded || prev.Artifact == nil {
		return "", services.Wrap(services.ErrInternal, stageName, "locate input",
			fmt.Sprintf("previous stage %s has no published artifact", prev.Name), nil)
	}
	if _, err := os.Stat(prev.Artifact.Path); err != nil {
		return "", services.Wrap(services.ErrInternal, stageName, "locate input",
			fmt.Sprintf("artifact %s vanished from the store", prev.Artifact.Path), err)
	}
	return prev.Artifact.Path, nil
}

func (e *Executor) stageTimeout(tool tools.Tool) time.Duration {
	if override := tool.Timeout(); override > 0 {
		return override
	}
	return time.Duration(e.cfg.Stages.DefaultTimeout) * time.Second
}

func (e *Executor) toolFailureAttempts(tool tools.Tool) int {
	if override := tool.RetryAttempts(); override > 0 {
		return override
	}
	if e.cfg.Retry.ToolFailureAttempts > 0 {
		return e.cfg.Retry.ToolFailureAttempts
	}
	return 1
}

// retryable applies the per-kind retry policy: tool failures retry up to
// the attempt bound, timeouts exactly once, everything else never.
func retryable(kind services.ErrorKind, attempt, maxToolFailures int) bool {
	switch kind {
	case services.KindToolFailure:
		return attempt < maxToolFailures
	case services.KindTimeout:
		return attempt < 2
	default:
		return false
	}
}

// backoff doubles from the configured initial delay, capped at the
// configured maximum.
func (e *Executor) backoff(attempt int) time.Duration {
	initial := time.Duration(e.cfg.Retry.BackoffInitial) * time.Second
	limit := time.Duration(e.cfg.Retry.BackoffMax) * time.Second
	if initial <= 0 {
		return 0
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if limit > 0 && delay >= limit {
			return limit
		}
	}
	if limit > 0 && delay > limit {
		return limit
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
