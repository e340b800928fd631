package workflow

import (
	"context"
	"errors"
	"time"

	"quaver/internal/logging"
	"quaver/internal/queue"
)

// sweepRetention expires terminal jobs whose retention window passed,
// removing their namespaces and registry rows. Completed and failed jobs
// have separate windows; cancelled jobs share the failed window since only
// their records remain.
func (m *Manager) sweepRetention(ctx context.Context) {
	completed := time.Duration(m.cfg.Retention.CompletedWindowSeconds) * time.Second
	failed := time.Duration(m.cfg.Retention.FailedWindowSeconds) * time.Second

	m.sweepStatus(ctx, queue.StatusCompleted, completed)
	m.sweepStatus(ctx, queue.StatusFailed, failed)
	m.sweepStatus(ctx, queue.StatusCancelled, failed)
}

func (m *Manager) sweepStatus(ctx context.Context, status queue.Status, window time.Duration) {
	if window <= 0 {
		return
	}
	cutoff := time.Now().UTC().Add(-window)
	jobs, err := m.store.ListFinishedBefore(ctx, status, cutoff)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Warn("list expired jobs",
				logging.String("status", string(status)),
				logging.Error(err),
			)
		}
		return
	}

	for _, job := range jobs {
		if err := m.artifacts.PurgeNamespace(job.ID); err != nil {
			m.logger.Warn("purge expired namespace",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
			continue
		}
		removed, err := m.store.Remove(ctx, job.ID)
		if err != nil {
			m.logger.Warn("remove expired job",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
			continue
		}
		if removed {
			m.logger.Info("expired job removed",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("status", string(status)),
			)
		}
	}
}
