package workflow

import (
	"context"
	"fmt"
	"io"
	"os"

	"quaver/internal/logging"
	"quaver/internal/queue"
	"quaver/internal/services"
)

// Job returns one job by id.
func (m *Manager) Job(ctx context.Context, id string) (*queue.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "", "status", "load job", err)
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "status", fmt.Sprintf("job %s", id), nil)
	}
	return job, nil
}

// List returns jobs filtered by status, oldest first. With no statuses it
// returns every job.
func (m *Manager) List(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	jobs, err := m.store.List(ctx, statuses...)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "", "status", "list jobs", err)
	}
	return jobs, nil
}

// Stats returns job counts per lifecycle status.
func (m *Manager) Stats(ctx context.Context) (map[queue.Status]int, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "", "status", "read queue stats", err)
	}
	return stats, nil
}

// Result returns the final artifact of a completed job. Jobs still in flight
// are not ready; failed and cancelled jobs have no result to return.
func (m *Manager) Result(ctx context.Context, id string) (*queue.ArtifactRef, error) {
	job, err := m.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case queue.StatusCompleted:
		final := job.FinalArtifact()
		if final == nil {
			return nil, services.Wrap(services.ErrInternal, "", "result", "completed job has no final artifact", nil)
		}
		if _, err := os.Stat(final.Path); err != nil {
			return nil, services.Wrap(services.ErrNotFound, "", "result", "final artifact no longer on disk", err)
		}
		return final, nil
	case queue.StatusFailed:
		message := job.FailureMessage()
		if message == "" {
			message = "job failed"
		}
		return nil, services.Wrap(services.ErrNotFound, "", "result", fmt.Sprintf("job failed: %s", message), nil)
	case queue.StatusCancelled:
		return nil, services.Wrap(services.ErrNotFound, "", "result", "job was cancelled and its artifacts purged", nil)
	default:
		return nil, services.Wrap(services.ErrNotReady, "", "result", fmt.Sprintf("job is %s", job.Status), nil)
	}
}

// OpenArtifact opens a published artifact for reading. Callers own the
// returned reader.
func (m *Manager) OpenArtifact(ref queue.ArtifactRef) (io.ReadCloser, error) {
	return m.artifacts.Open(ref)
}

// Delete removes a terminal job and everything left in its namespace.
// Live jobs must be cancelled first.
func (m *Manager) Delete(ctx context.Context, id string) error {
	job, err := m.Job(ctx, id)
	if err != nil {
		return err
	}
	if !job.IsTerminal() {
		return services.Wrap(services.ErrValidation, "", "delete",
			fmt.Sprintf("job is %s; cancel it before deleting", job.Status), nil)
	}
	if err := m.artifacts.PurgeNamespace(id); err != nil {
		return services.Wrap(services.ErrInternal, "", "delete", "purge namespace", err)
	}
	if _, err := m.store.Remove(ctx, id); err != nil {
		return services.Wrap(services.ErrInternal, "", "delete", "remove job record", err)
	}
	m.logger.Info("job deleted",
		logging.String(logging.FieldJobID, id),
		logging.String("status", string(job.Status)),
	)
	return nil
}
