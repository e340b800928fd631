package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. It honors the same claim,
// cancel, and status-derivation semantics as the SQLite store so tests and
// throwaway runs exercise identical behavior; only durability differs.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryStore returns an empty in-memory registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// CreateJob inserts a new job with its planned stages.
func (s *MemoryStore) CreateJob(_ context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("insert job: duplicate id %s", job.ID)
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Status = DeriveStatus(job.Stages)
	s.jobs[job.ID] = job.Clone()
	return nil
}

// GetJob fetches a job by identifier. It returns nil when no job matches.
func (s *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id].Clone(), nil
}

// UpdateJob persists changes to an existing job, re-deriving its status.
func (s *MemoryStore) UpdateJob(_ context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotFound)
	}

	job.Status = DeriveStatus(job.Stages)
	job.UpdatedAt = time.Now().UTC()
	if job.Status.IsTerminal() {
		if job.FinishedAt == nil {
			finished := job.UpdatedAt
			job.FinishedAt = &finished
		}
	} else {
		job.FinishedAt = nil
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// List returns jobs filtered by status set, oldest first.
func (s *MemoryStore) List(_ context.Context, statuses ...Status) ([]*Job, error) {
	wanted := make(map[Status]struct{}, len(statuses))
	for _, status := range statuses {
		wanted[status] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if len(wanted) > 0 {
			if _, ok := wanted[job.Status]; !ok {
				continue
			}
		}
		jobs = append(jobs, job.Clone())
	}
	sortJobs(jobs)
	return jobs, nil
}

// Claim atomically assigns the oldest runnable job to a worker.
func (s *MemoryStore) Claim(_ context.Context, workerID string) (*Job, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, errors.New("worker id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *Job
	for _, job := range s.jobs {
		if job.Status.IsTerminal() || job.ClaimedBy != "" {
			continue
		}
		if oldest == nil || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest = job
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	oldest.ClaimedBy = workerID
	oldest.LastHeartbeat = &now
	oldest.UpdatedAt = now
	return oldest.Clone(), nil
}

// UpdateHeartbeat updates the liveness timestamp for an in-flight job.
func (s *MemoryStore) UpdateHeartbeat(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	job.LastHeartbeat = &now
	job.UpdatedAt = now
	return nil
}

// ReclaimStale releases jobs whose worker stopped heartbeating.
func (s *MemoryStore) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, job := range s.jobs {
		if job.Status.IsTerminal() || job.ClaimedBy == "" {
			continue
		}
		if job.LastHeartbeat == nil || !job.LastHeartbeat.Before(cutoff) {
			continue
		}
		releaseClaim(job)
		released++
	}
	return released, nil
}

// ResetStuckRunning releases every held claim.
func (s *MemoryStore) ResetStuckRunning(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for _, job := range s.jobs {
		if job.Status.IsTerminal() || job.ClaimedBy == "" {
			continue
		}
		releaseClaim(job)
		released++
	}
	return released, nil
}

func releaseClaim(job *Job) {
	for i := range job.Stages {
		if job.Stages[i].Status == StageRunning {
			job.Stages[i].Status = StagePending
			job.Stages[i].StartedAt = nil
		}
	}
	job.ClaimedBy = ""
	job.LastHeartbeat = nil
	job.Status = DeriveStatus(job.Stages)
	job.UpdatedAt = time.Now().UTC()
}

// CancelUnclaimed finalizes a job as cancelled when no worker holds it.
func (s *MemoryStore) CancelUnclaimed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() || job.ClaimedBy != "" {
		return false, nil
	}

	for i := range job.Stages {
		if job.Stages[i].Status != StageSucceeded {
			job.Stages[i].Status = StageSkipped
		}
	}
	job.CancelRequested = true
	job.Status = DeriveStatus(job.Stages)
	now := time.Now().UTC()
	job.UpdatedAt = now
	job.FinishedAt = &now
	return true, nil
}

// MarkCancelRequested flags a live job for cooperative cancellation.
func (s *MemoryStore) MarkCancelRequested(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	job.CancelRequested = true
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

// RetryFailed returns failed jobs to the queue for another run.
func (s *MemoryStore) RetryFailed(_ context.Context, ids ...string) (int64, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var retried int64
	for _, job := range s.jobs {
		if job.Status != StatusFailed {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[job.ID]; !ok {
				continue
			}
		}
		for i := range job.Stages {
			switch job.Stages[i].Status {
			case StageFailed, StageSkipped:
				job.Stages[i].Status = StagePending
				job.Stages[i].StartedAt = nil
				job.Stages[i].FinishedAt = nil
				job.Stages[i].Error = nil
			}
		}
		job.ClaimedBy = ""
		job.LastHeartbeat = nil
		job.CancelRequested = false
		job.FinishedAt = nil
		job.Status = DeriveStatus(job.Stages)
		job.UpdatedAt = time.Now().UTC()
		retried++
	}
	return retried, nil
}

// Remove deletes a job by identifier.
func (s *MemoryStore) Remove(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false, nil
	}
	delete(s.jobs, id)
	return true, nil
}

// ListFinishedBefore returns terminal jobs finished before the cutoff.
func (s *MemoryStore) ListFinishedBefore(_ context.Context, status Status, cutoff time.Time) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*Job
	for _, job := range s.jobs {
		if job.Status != status || job.FinishedAt == nil {
			continue
		}
		if !job.FinishedAt.Before(cutoff) {
			continue
		}
		jobs = append(jobs, job.Clone())
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].FinishedAt.Before(*jobs[j].FinishedAt)
	})
	return jobs, nil
}

// Stats returns a count of jobs grouped by status.
func (s *MemoryStore) Stats(_ context.Context) (map[Status]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[Status]int)
	for _, job := range s.jobs {
		stats[job.Status]++
	}
	return stats, nil
}

// Health aggregates job counts for diagnostic output.
func (s *MemoryStore) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	return summarize(stats), nil
}

// CheckHealth reports the in-memory backend as healthy with its job count.
func (s *MemoryStore) CheckHealth(_ context.Context) (DatabaseHealth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return DatabaseHealth{
		Backend:          "memory",
		DatabaseExists:   true,
		DatabaseReadable: true,
		TableExists:      true,
		IntegrityCheck:   true,
		TotalJobs:        len(s.jobs),
	}, nil
}

// Close releases nothing; the registry vanishes with the process.
func (s *MemoryStore) Close() error {
	return nil
}

func sortJobs(jobs []*Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
