package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"quaver/internal/logging"
	"quaver/internal/queue"
	"quaver/internal/services"
)

// persistTimeout bounds registry writes that must land after the triggering
// context has already been cancelled.
const persistTimeout = 10 * time.Second

// persistContext detaches a registry write from a cancelled job context.
func persistContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}

type runOutcome int

const (
	outcomeCompleted runOutcome = iota
	outcomeFailed
	outcomeCancelled
	outcomeShutdown
)

// processJob walks a claimed job through its remaining stages and finalizes
// it. It returns context.Canceled only for daemon shutdown so the worker
// loop can exit; operator cancellations finalize the job and let the worker
// claim the next one.
func (m *Manager) processJob(ctx context.Context, workerID string, workerLogger *slog.Logger, job *queue.Job) error {
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()
	m.trackJob(job.ID, cancelJob)
	defer m.untrackJob(job.ID)
	m.recorder.WorkerStarted()
	defer m.recorder.WorkerStopped()

	jobCtx = services.WithJobID(jobCtx, job.ID)
	jobCtx = services.WithWorker(jobCtx, workerID)
	logger := workerLogger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String("kind", string(job.Kind)),
	)

	jobCtx, span := m.tracer.Start(jobCtx, "quaver.job",
		trace.WithAttributes(
			attribute.String("quaver.job.id", job.ID),
			attribute.String("quaver.job.kind", string(job.Kind)),
		))
	defer span.End()

	hbCtx, hbCancel := context.WithCancel(jobCtx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.startLoop(hbCtx, &hbWG, job.ID)
	defer func() {
		hbCancel()
		hbWG.Wait()
	}()

	started := time.Now()
	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_start"),
		logging.Int("resume_stage", job.NextStageIndex()),
	)

	outcome, stageErr := m.runStages(jobCtx, logger, job)
	duration := time.Since(started)
	switch outcome {
	case outcomeCompleted:
		span.SetStatus(codes.Ok, "")
		m.finalizeCompleted(jobCtx, logger, job, duration)
		return nil
	case outcomeFailed:
		if stageErr != nil {
			span.RecordError(stageErr)
		}
		span.SetStatus(codes.Error, "job failed")
		m.finalizeFailed(jobCtx, logger, job, duration)
		return nil
	case outcomeCancelled:
		span.SetStatus(codes.Error, "job cancelled")
		m.finalizeCancelled(logger, job, duration)
		return nil
	default:
		m.releaseForShutdown(logger, job)
		return context.Canceled
	}
}

// runStages resumes the job from its first unfinished stage. Each stage
// transition is persisted before and after execution so a crash at any point
// resumes without repeating published work.
func (m *Manager) runStages(ctx context.Context, logger *slog.Logger, job *queue.Job) (runOutcome, error) {
	start := job.NextStageIndex()
	if start < 0 {
		return outcomeCompleted, nil
	}
	for i := start; i < len(job.Stages); i++ {
		if outcome, halt := m.checkCancelBetweenStages(ctx, logger, job); halt {
			return outcome, nil
		}

		rec := &job.Stages[i]
		now := time.Now().UTC()
		rec.Status = queue.StageRunning
		rec.StartedAt = &now
		rec.FinishedAt = nil
		rec.Error = nil
		if err := m.store.UpdateJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return m.interruptOutcome(job), nil
			}
			rec.Status = queue.StageFailed
			wrapped := services.Wrap(services.ErrInternal, rec.Name, "persist stage start", "", err)
			recordStageError(rec, wrapped, 0)
			return outcomeFailed, wrapped
		}

		stageCtx := services.WithStage(ctx, rec.Name)
		stageCtx, stageSpan := m.tracer.Start(stageCtx, "quaver.stage",
			trace.WithAttributes(
				attribute.String("quaver.stage.name", rec.Name),
				attribute.String("quaver.stage.tool", rec.Tool),
			))
		result, runErr := m.executor.Run(stageCtx, job, i)
		finished := time.Now().UTC()

		if runErr != nil {
			if errors.Is(runErr, context.Canceled) {
				stageSpan.SetStatus(codes.Error, "interrupted")
				stageSpan.End()
				rec.FinishedAt = &finished
				return m.interruptOutcome(job), nil
			}
			stageSpan.RecordError(runErr)
			stageSpan.SetStatus(codes.Error, services.Classify(runErr).String())
			stageSpan.End()
			rec.Status = queue.StageFailed
			rec.FinishedAt = &finished
			recordStageError(rec, runErr, result.Attempts)
			if err := m.store.UpdateJob(ctx, job); err != nil {
				logger.Error("persist stage failure", logging.Error(err))
			}
			return outcomeFailed, runErr
		}
		stageSpan.SetStatus(codes.Ok, "")
		stageSpan.End()

		artifact := result.Artifact
		rec.Status = queue.StageSucceeded
		rec.FinishedAt = &finished
		rec.Artifact = &artifact
		if err := m.store.UpdateJob(ctx, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return m.interruptOutcome(job), nil
			}
			rec.Status = queue.StageFailed
			wrapped := services.Wrap(services.ErrInternal, rec.Name, "persist stage result", "", err)
			recordStageError(rec, wrapped, result.Attempts)
			return outcomeFailed, wrapped
		}
	}
	return outcomeCompleted, nil
}

// checkCancelBetweenStages refreshes the cancel flag from the registry so a
// cancellation requested during the previous stage stops the job before the
// next tool launches.
func (m *Manager) checkCancelBetweenStages(ctx context.Context, logger *slog.Logger, job *queue.Job) (runOutcome, bool) {
	if ctx.Err() != nil {
		return m.interruptOutcome(job), true
	}
	fresh, err := m.store.GetJob(ctx, job.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return m.interruptOutcome(job), true
		}
		logger.Warn("refresh cancel flag", logging.Error(err))
		return 0, false
	}
	if fresh == nil || fresh.CancelRequested {
		job.CancelRequested = true
		return outcomeCancelled, true
	}
	return 0, false
}

// interruptOutcome disambiguates a context cancellation. An operator cancel
// leaves CancelRequested set in the registry; anything else is daemon
// shutdown and the job goes back to the queue.
func (m *Manager) interruptOutcome(job *queue.Job) runOutcome {
	ctx, cancel := persistContext()
	defer cancel()
	fresh, err := m.store.GetJob(ctx, job.ID)
	if err == nil && fresh != nil && fresh.CancelRequested {
		job.CancelRequested = true
		return outcomeCancelled
	}
	return outcomeShutdown
}

// releaseForShutdown returns an interrupted job to the queue so the next
// daemon run resumes it from its first unfinished stage.
func (m *Manager) releaseForShutdown(logger *slog.Logger, job *queue.Job) {
	for i := range job.Stages {
		if job.Stages[i].Status == queue.StageRunning {
			job.Stages[i].Status = queue.StagePending
			job.Stages[i].StartedAt = nil
			job.Stages[i].FinishedAt = nil
			job.Stages[i].Error = nil
		}
	}
	job.ClaimedBy = ""
	job.LastHeartbeat = nil

	ctx, cancel := persistContext()
	defer cancel()
	if err := m.store.UpdateJob(ctx, job); err != nil {
		logger.Warn("release claim on shutdown; startup reset will recover the job",
			logging.Error(err),
		)
		return
	}
	logger.Info("job released for shutdown",
		logging.String(logging.FieldEventType, "job_interrupted"),
		logging.Int("resume_stage", job.NextStageIndex()),
	)
}

func recordStageError(rec *queue.StageRecord, err error, attempts int) {
	rec.Error = &queue.StageError{
		Kind:     services.Classify(err).String(),
		Message:  failureMessage(err),
		Attempts: attempts,
	}
}

func failureMessage(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
