package workflow

import (
	"context"
	"fmt"
	"time"

	"quaver/internal/logging"
	"quaver/internal/notifications"
	"quaver/internal/queue"
	"quaver/internal/services"
)

// Cancel stops a job. An unclaimed job finalizes immediately and its
// namespace is purged; a claimed job is flagged for cooperative cancellation
// and the owning worker stops it at the next tool boundary. Cancelling a job
// that already settled is a no-op: the job comes back unchanged. The returned
// job reflects the registry state after the cancel took effect or was
// flagged.
func (m *Manager) Cancel(ctx context.Context, id string) (*queue.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "", "cancel", "load job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "cancel", fmt.Sprintf("job %s", id), nil)
	}
	if job.IsTerminal() {
		return job, nil
	}

	finalized, err := m.store.CancelUnclaimed(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "", "cancel", "finalize unclaimed job", err)
	}
	if finalized {
		if err := m.artifacts.PurgeNamespace(id); err != nil {
			m.logger.Warn("purge cancelled namespace",
				logging.String(logging.FieldJobID, id),
				logging.Error(err),
			)
		}
		cancelled, err := m.store.GetJob(ctx, id)
		if err != nil || cancelled == nil {
			cancelled = job
		}
		m.recorder.JobFinished(string(cancelled.Kind), string(queue.StatusCancelled), time.Since(cancelled.CreatedAt))
		m.logger.Info("cancelled queued job",
			logging.String(logging.FieldJobID, id),
			logging.String(logging.FieldEventType, "job_cancelled"),
		)
		m.notifyJob(ctx, notifications.EventJobCancelled, cancelled, nil)
		return cancelled, nil
	}

	// A worker holds the job. Flag the registry first so the flag survives
	// this process, then fire the stage context if the job is running here.
	flagged, err := m.store.MarkCancelRequested(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "", "cancel", "flag cancellation", err)
	}
	if !flagged {
		// The job settled between the snapshot and the flag. Same no-op
		// contract as the terminal check above.
		settled, err := m.store.GetJob(ctx, id)
		if err != nil {
			return nil, services.Wrap(services.ErrInternal, "", "cancel", "load job", err)
		}
		if settled == nil {
			return nil, services.Wrap(services.ErrNotFound, "", "cancel", fmt.Sprintf("job %s", id), nil)
		}
		return settled, nil
	}
	if m.cancelInflight(id) {
		m.logger.Info("cancellation signalled to running stage",
			logging.String(logging.FieldJobID, id),
		)
	} else {
		m.logger.Info("cancellation flagged for claimed job",
			logging.String(logging.FieldJobID, id),
		)
	}

	flaggedJob, err := m.store.GetJob(ctx, id)
	if err != nil || flaggedJob == nil {
		job.CancelRequested = true
		return job, nil
	}
	return flaggedJob, nil
}

// Retry returns failed jobs to the queue, resuming each from its first
// unfinished stage. With no ids every failed job is retried.
func (m *Manager) Retry(ctx context.Context, ids ...string) (int64, error) {
	for _, id := range ids {
		job, err := m.store.GetJob(ctx, id)
		if err != nil {
			return 0, services.Wrap(services.ErrInternal, "", "retry", "load job", err)
		}
		if job == nil {
			return 0, services.Wrap(services.ErrNotFound, "", "retry", fmt.Sprintf("job %s", id), nil)
		}
		if job.Status != queue.StatusFailed {
			return 0, services.Wrap(services.ErrValidation, "", "retry",
				fmt.Sprintf("job is %s; only failed jobs can be retried", job.Status), nil)
		}
	}

	retried, err := m.store.RetryFailed(ctx, ids...)
	if err != nil {
		return 0, services.Wrap(services.ErrInternal, "", "retry", "requeue failed jobs", err)
	}
	if retried > 0 {
		m.logger.Info("failed jobs requeued", logging.Int64("count", retried))
	}
	return retried, nil
}
