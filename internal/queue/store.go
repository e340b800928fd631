package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quaver/internal/config"
)

// ErrNotFound reports an operation against a job id the registry does not hold.
var ErrNotFound = errors.New("job not found")

// Store is the persistence boundary for conversion jobs. The workflow
// manager is the single writer behind every mutating call; CLI and API
// surfaces only read. Implementations must keep the persisted status a pure
// projection of the stage records on every write.
type Store interface {
	// CreateJob inserts a new job with its planned stages.
	CreateJob(ctx context.Context, job *Job) error
	// GetJob fetches a job by identifier. It returns nil when no job matches.
	GetJob(ctx context.Context, id string) (*Job, error)
	// UpdateJob persists changes to an existing job, re-deriving its status
	// from the stage records and stamping finished_at on terminal transitions.
	UpdateJob(ctx context.Context, job *Job) error
	// List returns jobs filtered by status, oldest first. With no statuses it
	// returns every job.
	List(ctx context.Context, statuses ...Status) ([]*Job, error)

	// Claim atomically assigns the oldest runnable job to a worker.
	// It returns nil when nothing is claimable.
	Claim(ctx context.Context, workerID string) (*Job, error)
	// UpdateHeartbeat refreshes the liveness timestamp for a claimed job.
	UpdateHeartbeat(ctx context.Context, id string) error
	// ReclaimStale releases claims whose heartbeat is older than the cutoff so
	// surviving workers can resume the jobs.
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	// ResetStuckRunning releases every held claim. It runs once at daemon
	// startup, before workers begin claiming.
	ResetStuckRunning(ctx context.Context) (int64, error)

	// CancelUnclaimed finalizes a job as cancelled when no worker holds it.
	// It reports false when the job is already claimed, terminal, or missing.
	CancelUnclaimed(ctx context.Context, id string) (bool, error)
	// MarkCancelRequested flags a live job for cooperative cancellation.
	MarkCancelRequested(ctx context.Context, id string) (bool, error)
	// RetryFailed returns failed jobs to the queue for another run. With no
	// ids every failed job is retried.
	RetryFailed(ctx context.Context, ids ...string) (int64, error)

	// Remove deletes a job record. It reports whether a row was removed.
	Remove(ctx context.Context, id string) (bool, error)
	// ListFinishedBefore returns terminal jobs of the given status that
	// finished before the cutoff, oldest first.
	ListFinishedBefore(ctx context.Context, status Status, cutoff time.Time) ([]*Job, error)

	// Stats returns a count of jobs grouped by status.
	Stats(ctx context.Context) (map[Status]int, error)
	// Health aggregates job counts for diagnostic output.
	Health(ctx context.Context) (HealthSummary, error)
	// CheckHealth returns diagnostic information about the backing storage.
	CheckHealth(ctx context.Context) (DatabaseHealth, error)
	// Close releases backend resources.
	Close() error
}

// Open constructs the registry backend selected by the configuration.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Registry.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite", "":
		return OpenSQLite(cfg)
	default:
		return nil, fmt.Errorf("unknown registry backend %q", cfg.Registry.Backend)
	}
}
