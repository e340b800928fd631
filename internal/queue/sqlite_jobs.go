package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, kind, status, options_json, source_path, stages_json, cancel_requested, claimed_by, last_heartbeat, created_at, updated_at, finished_at"

// CreateJob inserts a new job with its planned stages. The status column is
// derived from the stages before the insert, never taken from the caller.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job id is empty")
	}

	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.Status = DeriveStatus(job.Stages)

	stagesJSON, err := EncodeStages(job.Stages)
	if err != nil {
		return err
	}
	optionsJSON, err := EncodeOptions(job.Options)
	if err != nil {
		return err
	}

	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            id, kind, status, options_json, source_path, stages_json,
            cancel_requested, claimed_by, last_heartbeat, created_at, updated_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Kind),
		string(job.Status),
		nullableString(optionsJSON),
		nullableString(job.SourcePath),
		stagesJSON,
		boolToInt(job.CancelRequested),
		nullableString(job.ClaimedBy),
		nullableTime(job.LastHeartbeat),
		job.CreatedAt.Format(time.RFC3339Nano),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.FinishedAt),
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by identifier. It returns nil when no job matches.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob persists changes to an existing job. The status column is always
// recomputed from the stage records so it cannot drift from them, and
// finished_at is stamped the first time the derived status turns terminal.
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
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

	stagesJSON, err := EncodeStages(job.Stages)
	if err != nil {
		return err
	}
	optionsJSON, err := EncodeOptions(job.Options)
	if err != nil {
		return err
	}

	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET kind = ?, status = ?, options_json = ?, source_path = ?, stages_json = ?,
             cancel_requested = ?, claimed_by = ?, last_heartbeat = ?, updated_at = ?, finished_at = ?
         WHERE id = ?`,
		string(job.Kind),
		string(job.Status),
		nullableString(optionsJSON),
		nullableString(job.SourcePath),
		stagesJSON,
		boolToInt(job.CancelRequested),
		nullableString(job.ClaimedBy),
		nullableTime(job.LastHeartbeat),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.FinishedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *SQLiteStore) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return collectJobs(rows)
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		kind            string
		statusStr       string
		optionsRaw      sql.NullString
		sourcePath      sql.NullString
		stagesRaw       sql.NullString
		cancelRequested sql.NullInt64
		claimedBy       sql.NullString
		heartbeatRaw    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
		finishedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&kind,
		&statusStr,
		&optionsRaw,
		&sourcePath,
		&stagesRaw,
		&cancelRequested,
		&claimedBy,
		&heartbeatRaw,
		&createdRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:         id,
		Kind:       Kind(kind),
		Status:     Status(statusStr),
		SourcePath: sourcePath.String,
		ClaimedBy:  claimedBy.String,
	}
	if cancelRequested.Valid {
		job.CancelRequested = cancelRequested.Int64 != 0
	}

	options, err := DecodeOptions(optionsRaw.String)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	job.Options = options

	stages, err := DecodeStages(stagesRaw.String)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", id, err)
	}
	job.Stages = stages

	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	if finishedRaw.Valid {
		if finished, err := parseTimeString(finishedRaw.String); err == nil {
			job.FinishedAt = &finished
		}
	}
	return job, nil
}

func collectJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	v := value.UTC().Format(time.RFC3339Nano)
	return v
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
