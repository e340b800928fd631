package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quaver/internal/logging"
	"quaver/internal/queue"
)

// heartbeatMonitor keeps claimed jobs visibly alive and reclaims jobs whose
// worker went silent.
type heartbeatMonitor struct {
	store    queue.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// startLoop refreshes one job's heartbeat until the context is cancelled.
func (h *heartbeatMonitor) startLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.store.UpdateHeartbeat(ctx, jobID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				h.logger.Warn("heartbeat update failed",
					logging.String(logging.FieldJobID, jobID),
					logging.Error(err),
				)
			}
		}
	}
}

// reclaim releases claims whose heartbeat is older than the timeout so
// surviving workers can resume those jobs from their first unfinished stage.
func (h *heartbeatMonitor) reclaim(ctx context.Context) error {
	if h.timeout <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-h.timeout)
	reclaimed, err := h.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		h.logger.Info("reclaimed jobs from silent workers",
			logging.Int64("count", reclaimed),
		)
	}
	return nil
}
