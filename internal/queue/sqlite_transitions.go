package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claim atomically assigns the oldest runnable job to a worker. Jobs are
// runnable when no worker holds them and they have not finished: a fresh
// submission before any stage runs, or a resumed job after its claim was
// released. The claim touches only scheduling columns, so a concurrent
// reader still sees a status that agrees with the stages.
func (s *SQLiteStore) Claim(ctx context.Context, workerID string) (*Job, error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, errors.New("worker id is empty")
	}
	ctx = ensureContext(ctx)

	var claimed *Job
	err := retryOnBusy(ctx, func() error {
		claimed = nil
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin claim tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(
			ctx,
			`SELECT `+jobColumns+` FROM jobs
             WHERE status IN (?, ?) AND (claimed_by IS NULL OR claimed_by = '')
             ORDER BY created_at LIMIT 1`,
			StatusQueued,
			StatusRunning,
		)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select claimable job: %w", err)
		}

		now := time.Now().UTC()
		stamp := now.Format(time.RFC3339Nano)
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET claimed_by = ?, last_heartbeat = ?, updated_at = ?
             WHERE id = ? AND (claimed_by IS NULL OR claimed_by = '')`,
			workerID,
			stamp,
			stamp,
			job.ID,
		)
		if err != nil {
			return fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			// Another worker won the race; the caller polls again.
			return tx.Commit()
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit claim: %w", err)
		}

		job.ClaimedBy = workerID
		job.LastHeartbeat = &now
		job.UpdatedAt = now
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// UpdateHeartbeat updates the liveness timestamp for an in-flight job.
func (s *SQLiteStore) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if _, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	); err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale releases jobs whose worker stopped heartbeating so another
// worker can resume them. Stages the dead worker left running are reset to
// pending; stages that already published their artifact stay succeeded and
// are never run again.
func (s *SQLiteStore) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffStamp := cutoff.UTC().Format(time.RFC3339Nano)
	return s.releaseClaims(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status IN (?, ?) AND claimed_by IS NOT NULL AND claimed_by != ''
           AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusQueued,
		StatusRunning,
		cutoffStamp,
	)
}

// ResetStuckRunning releases every held claim. The daemon calls it once at
// startup, before any worker claims, to recover jobs a previous process left
// behind. Interrupted stages published nothing, so resetting them to pending
// and resuming from the first unfinished stage repeats no completed work.
func (s *SQLiteStore) ResetStuckRunning(ctx context.Context) (int64, error) {
	return s.releaseClaims(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE status IN (?, ?) AND claimed_by IS NOT NULL AND claimed_by != ''`,
		StatusQueued,
		StatusRunning,
	)
}

func (s *SQLiteStore) releaseClaims(ctx context.Context, query string, args ...any) (int64, error) {
	ctx = ensureContext(ctx)

	var released int64
	err := retryOnBusy(ctx, func() error {
		released = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin release tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select claimed jobs: %w", err)
		}
		jobs, err := collectJobs(rows)
		if err != nil {
			return err
		}

		for _, job := range jobs {
			for i := range job.Stages {
				if job.Stages[i].Status == StageRunning {
					job.Stages[i].Status = StagePending
					job.Stages[i].StartedAt = nil
				}
			}
			job.ClaimedBy = ""
			job.LastHeartbeat = nil
			if err := stampJobTx(ctx, tx, job); err != nil {
				return err
			}
			released++
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit release: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// CancelUnclaimed finalizes a job immediately when no worker holds it. Every
// stage that has not succeeded is marked skipped, which derives the cancelled
// status. The update re-checks the claim so a worker that grabbed the job
// concurrently wins and the caller falls back to cooperative cancellation.
func (s *SQLiteStore) CancelUnclaimed(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)

	var cancelled bool
	err := retryOnBusy(ctx, func() error {
		cancelled = false
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cancel tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select job: %w", err)
		}
		if job.Status.IsTerminal() || job.ClaimedBy != "" {
			return nil
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

		stagesJSON, err := EncodeStages(job.Stages)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, stages_json = ?, cancel_requested = 1, finished_at = ?, updated_at = ?
             WHERE id = ? AND (claimed_by IS NULL OR claimed_by = '')`,
			string(job.Status),
			stagesJSON,
			now.Format(time.RFC3339Nano),
			now.Format(time.RFC3339Nano),
			id,
		)
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return tx.Commit()
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit cancel: %w", err)
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// MarkCancelRequested flags a live job for cooperative cancellation. The
// worker holding the job observes the flag between attempts and stages; the
// manager additionally cancels the stage context for jobs it is executing
// in-process.
func (s *SQLiteStore) MarkCancelRequested(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
		StatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("mark cancel requested: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RetryFailed returns failed jobs to the queue for another run. Failed stages
// are reset to pending with their recorded error cleared; succeeded stages
// keep their artifacts and are not executed again. With no ids every failed
// job is retried.
func (s *SQLiteStore) RetryFailed(ctx context.Context, ids ...string) (int64, error) {
	ctx = ensureContext(ctx)

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = ?`
	args := []any{StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}

	var retried int64
	err := retryOnBusy(ctx, func() error {
		retried = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin retry tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select failed jobs: %w", err)
		}
		jobs, err := collectJobs(rows)
		if err != nil {
			return err
		}

		for _, job := range jobs {
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
			if err := stampJobTx(ctx, tx, job); err != nil {
				return err
			}
			retried++
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit retry: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return retried, nil
}

// stampJobTx writes a job's stages plus scheduling columns inside a
// transaction, re-deriving the status so it stays a projection of the stages.
func stampJobTx(ctx context.Context, tx *sql.Tx, job *Job) error {
	job.Status = DeriveStatus(job.Stages)
	job.UpdatedAt = time.Now().UTC()

	stagesJSON, err := EncodeStages(job.Stages)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, stages_json = ?, cancel_requested = ?, claimed_by = ?,
             last_heartbeat = ?, updated_at = ?, finished_at = ?
         WHERE id = ?`,
		string(job.Status),
		stagesJSON,
		boolToInt(job.CancelRequested),
		nullableString(job.ClaimedBy),
		nullableTime(job.LastHeartbeat),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.FinishedAt),
		job.ID,
	); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return nil
}
