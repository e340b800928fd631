package workflow

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"quaver/internal/logging"
	"quaver/internal/notifications"
	"quaver/internal/pipeline"
	"quaver/internal/queue"
)

// finalizeCompleted persists the terminal state, prunes intermediates, and
// exports the final artifact. The final artifact always survives in the
// namespace until the retention sweep expires the job.
func (m *Manager) finalizeCompleted(ctx context.Context, logger *slog.Logger, job *queue.Job, duration time.Duration) {
	job.ClaimedBy = ""
	job.LastHeartbeat = nil
	if err := m.persistTerminal(ctx, job); err != nil {
		// The job stays claimable; the next claim finds every stage
		// succeeded and finalizes again.
		logger.Error("persist completed job", logging.Error(err))
		return
	}

	if !m.cfg.Retention.KeepIntermediates {
		m.removeIntermediates(logger, job)
	}
	if err := m.artifacts.CleanScratch(job.ID); err != nil {
		logger.Warn("clean scratch", logging.Error(err))
	}
	m.exportFinal(ctx, logger, job)

	m.recorder.JobFinished(string(job.Kind), string(queue.StatusCompleted), duration)
	logger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.Duration("duration", duration),
	)
	payload := notifications.Payload{}
	if final := job.FinalArtifact(); final != nil {
		payload["artifact"] = final.Path
	}
	m.notifyJob(ctx, notifications.EventJobCompleted, job, payload)
}

// finalizeFailed skips the stages after the failed one and persists the
// failure. Published artifacts stay in the namespace for postmortem until the
// failed retention window expires them.
func (m *Manager) finalizeFailed(ctx context.Context, logger *slog.Logger, job *queue.Job, duration time.Duration) {
	markSkipped(job)
	job.ClaimedBy = ""
	job.LastHeartbeat = nil
	if err := m.persistTerminal(ctx, job); err != nil {
		logger.Error("persist failed job", logging.Error(err))
		return
	}
	if err := m.artifacts.CleanScratch(job.ID); err != nil {
		logger.Warn("clean scratch", logging.Error(err))
	}

	m.recorder.JobFinished(string(job.Kind), string(queue.StatusFailed), duration)
	failed := failedStage(job)
	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failure"),
		logging.String(logging.FieldStage, failed),
		logging.Duration("duration", duration),
	)
	m.notifyJob(ctx, notifications.EventJobFailed, job, notifications.Payload{
		"stage": failed,
		"error": job.FailureMessage(),
	})
}

// finalizeCancelled skips the remaining stages and purges the namespace.
// Cancelled jobs keep nothing on disk.
func (m *Manager) finalizeCancelled(logger *slog.Logger, job *queue.Job, duration time.Duration) {
	markSkipped(job)
	job.ClaimedBy = ""
	job.LastHeartbeat = nil

	ctx, cancel := persistContext()
	defer cancel()
	if err := m.store.UpdateJob(ctx, job); err != nil {
		logger.Error("persist cancelled job", logging.Error(err))
	}
	if err := m.artifacts.PurgeNamespace(job.ID); err != nil {
		logger.Warn("purge cancelled namespace", logging.Error(err))
	}

	m.recorder.JobFinished(string(job.Kind), string(queue.StatusCancelled), duration)
	logger.Info("job cancelled",
		logging.String(logging.FieldEventType, "job_cancelled"),
		logging.Duration("duration", duration),
	)
	m.notifyJob(ctx, notifications.EventJobCancelled, job, nil)
}

// persistTerminal writes the terminal job state, falling back to a detached
// context when shutdown raced the final stage.
func (m *Manager) persistTerminal(ctx context.Context, job *queue.Job) error {
	err := m.store.UpdateJob(ctx, job)
	if err != nil && errors.Is(err, context.Canceled) {
		pctx, cancel := persistContext()
		defer cancel()
		err = m.store.UpdateJob(pctx, job)
	}
	return err
}

// markSkipped flips every unfinished stage to skipped. Skipped stages never
// ran, so a failed or cancelled job reads the same way in both terminal
// states: everything after the decisive stage is skipped.
func markSkipped(job *queue.Job) {
	now := time.Now().UTC()
	for i := range job.Stages {
		switch job.Stages[i].Status {
		case queue.StageSucceeded, queue.StageFailed:
		default:
			job.Stages[i].Status = queue.StageSkipped
			if job.Stages[i].StartedAt != nil && job.Stages[i].FinishedAt == nil {
				job.Stages[i].FinishedAt = &now
			}
		}
	}
}

// removeIntermediates deletes the ingested source and every stage output
// except the final artifact. Already-removed files are fine; two stages of a
// pipeline may publish under the same canonical name.
func (m *Manager) removeIntermediates(logger *slog.Logger, job *queue.Job) {
	for i := 0; i < len(job.Stages)-1; i++ {
		ref := job.Stages[i].Artifact
		if ref == nil {
			continue
		}
		if err := m.artifacts.Remove(*ref); err != nil {
			logger.Warn("remove intermediate artifact",
				logging.String("artifact", ref.Path),
				logging.Error(err),
			)
		}
	}

	def, err := pipeline.DefinitionFor(job.Kind)
	if err != nil {
		return
	}
	namespace, err := m.artifacts.Namespace(job.ID)
	if err != nil {
		return
	}
	source := queue.ArtifactRef{
		Kind: string(def.Source),
		Path: filepath.Join(namespace, def.Source.FileName()),
	}
	if err := m.artifacts.Remove(source); err != nil {
		logger.Warn("remove ingested source", logging.Error(err))
	}
}

// exportFinal pushes the final artifact to the object store when export is
// configured. Export failures never change a job's outcome.
func (m *Manager) exportFinal(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	if !m.uploader.Enabled() {
		return
	}
	final := job.FinalArtifact()
	if final == nil {
		return
	}
	object, err := m.uploader.UploadArtifact(ctx, job, *final)
	if err != nil {
		logger.Warn("export final artifact",
			logging.String("artifact", final.Path),
			logging.Error(err),
		)
		return
	}
	logger.Info("final artifact exported", logging.String("object", object))
}

func failedStage(job *queue.Job) string {
	for i := range job.Stages {
		if job.Stages[i].Status == queue.StageFailed {
			return job.Stages[i].Name
		}
	}
	return ""
}
