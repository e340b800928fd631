package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"quaver/internal/logging"
	"quaver/internal/notifications"
	"quaver/internal/pipeline"
	"quaver/internal/queue"
	"quaver/internal/services"
)

// SubmitRequest describes a new conversion job.
type SubmitRequest struct {
	Kind    queue.Kind
	Source  string
	Options map[string]string
}

// Submit validates a request, copies the source file into a fresh job
// namespace, and enqueues the job. Validation failures return before any
// state is created; ingestion failures leave nothing behind.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*queue.Job, error) {
	def, err := pipeline.DefinitionFor(req.Kind)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "submit", "unknown job kind", err)
	}
	source, err := resolveSource(req.Source)
	if err != nil {
		return nil, err
	}
	if err := pipeline.ValidateOptions(req.Kind, req.Options); err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "submit", "invalid options", err)
	}
	if err := m.artifacts.CheckFreeSpace(); err != nil {
		return nil, err
	}

	job := &queue.Job{
		ID:         uuid.NewString(),
		Kind:       req.Kind,
		Status:     queue.StatusQueued,
		Options:    pipeline.NormalizeOptions(req.Kind, req.Options),
		SourcePath: source,
		Stages:     def.PlanStages(),
		CreatedAt:  time.Now().UTC(),
	}

	// Ingest before enqueueing so a claimed job always finds its input in
	// the namespace, even if the submitter deletes the original file.
	if _, err := m.artifacts.Publish(job.ID, def.Source, source); err != nil {
		return nil, services.Wrap(services.ErrInternal, "", "submit", "ingest source", err)
	}
	if err := m.store.CreateJob(ctx, job); err != nil {
		if purgeErr := m.artifacts.PurgeNamespace(job.ID); purgeErr != nil {
			m.logger.Warn("purge namespace after failed enqueue",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(purgeErr),
			)
		}
		return nil, services.Wrap(services.ErrInternal, "", "submit", "enqueue job", err)
	}

	m.recorder.JobSubmitted(string(job.Kind))
	m.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("kind", string(job.Kind)),
		logging.String("source", source),
		logging.Int("stages", len(job.Stages)),
	)
	m.notifyJob(ctx, notifications.EventJobQueued, job, notifications.Payload{
		"source": source,
	})
	return job.Clone(), nil
}

// resolveSource normalizes and checks the submitted source path. The file
// must exist and be a regular, non-empty file before a job is created.
func resolveSource(raw string) (string, error) {
	source := strings.TrimSpace(raw)
	if source == "" {
		return "", services.Wrap(services.ErrValidation, "", "submit", "source file is required", nil)
	}
	abs, err := filepath.Abs(source)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", "submit", "resolve source path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", services.Wrap(services.ErrValidation, "", "submit", "source file does not exist", nil)
		}
		return "", services.Wrap(services.ErrValidation, "", "submit", "inspect source file", err)
	}
	if info.IsDir() {
		return "", services.Wrap(services.ErrValidation, "", "submit", "source is a directory", nil)
	}
	if info.Size() == 0 {
		return "", services.Wrap(services.ErrValidation, "", "submit", "source file is empty", nil)
	}
	return abs, nil
}
