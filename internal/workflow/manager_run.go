package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quaver/internal/logging"
	"quaver/internal/queue"
)

// Start releases claims left over from a previous run, then launches the
// worker pool and the maintenance loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}

	released, err := m.store.ResetStuckRunning(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("release stale claims: %w", err)
	}

	workers := m.cfg.Workers.Count
	if workers <= 0 {
		workers = 1
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(workers + 1)
	m.mu.Unlock()

	if released > 0 {
		m.logger.Info("released stale claims from previous run",
			logging.Int64("count", released),
		)
	}
	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, m.workerID(i))
	}
	go m.runMaintenance(runCtx)

	m.logger.Info("workflow started", logging.Int("workers", workers))
	return nil
}

// Stop terminates background processing and waits for in-flight stages to
// persist their interruption state.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) runWorker(ctx context.Context, workerID string) {
	defer m.wg.Done()
	logger := m.logger.With(logging.String(logging.FieldWorker, workerID))
	logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped")
			return
		default:
		}

		job, err := m.store.Claim(ctx, workerID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "claim_failed"),
			)
			m.waitForJobOrShutdown(ctx)
			continue
		}
		if job == nil {
			m.waitForJobOrShutdown(ctx)
			continue
		}

		if err := m.processJob(ctx, workerID, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(m.pollInterval):
	}
}

// runMaintenance reclaims jobs whose worker stopped heartbeating, sweeps
// expired terminal jobs, and keeps the queue depth gauge current.
func (m *Manager) runMaintenance(ctx context.Context) {
	defer m.wg.Done()

	reclaim := time.NewTicker(m.heartbeat.interval)
	defer reclaim.Stop()
	sweep := time.NewTicker(time.Duration(m.cfg.Retention.SweepIntervalSeconds) * time.Second)
	defer sweep.Stop()

	m.refreshQueueDepth(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-reclaim.C:
			if err := m.heartbeat.reclaim(ctx); err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Warn("reclaim stale claims; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				)
			}
			m.refreshQueueDepth(ctx)
		case <-sweep.C:
			m.sweepRetention(ctx)
		}
	}
}

func (m *Manager) refreshQueueDepth(ctx context.Context) {
	if m.recorder == nil {
		return
	}
	stats, err := m.store.Stats(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			m.logger.Debug("refresh queue depth", logging.Error(err))
		}
		return
	}
	m.recorder.SetQueueDepth(stats[queue.StatusQueued])
}
