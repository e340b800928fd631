package workflow

import (
	"context"
	"errors"

	"quaver/internal/logging"
	"quaver/internal/notifications"
	"quaver/internal/queue"
)

// notifyJob publishes a job lifecycle event. Notification failures are
// logged and never affect the job outcome.
func (m *Manager) notifyJob(ctx context.Context, event notifications.Event, job *queue.Job, payload notifications.Payload) {
	if m.notifier == nil || job == nil {
		return
	}
	if payload == nil {
		payload = notifications.Payload{}
	}
	payload["jobID"] = job.ID
	payload["kind"] = string(job.Kind)
	if _, ok := payload["source"]; !ok && job.SourcePath != "" {
		payload["source"] = job.SourcePath
	}

	if err := m.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debug("daemon shutting down, notification dropped",
				logging.String("event", string(event)),
			)
			return
		}
		m.logger.Debug("notification failed",
			logging.String("event", string(event)),
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
	}
}
