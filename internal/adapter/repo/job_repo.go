package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"server/internal/domain"
)

// JobRecordStorePG implements domain.JobRecordStore on PostgreSQL.
type JobRecordStorePG struct {
	pool *pgxpool.Pool
}

// NewJobRecordStore creates a job record store backed by PostgreSQL.
func NewJobRecordStore(pool *pgxpool.Pool) *JobRecordStorePG {
	return &JobRecordStorePG{pool: pool}
}

const jobColumns = `id, prompt, template, user_id, priority, config_json, status, created_at, started_at, completed_at, result_ref, error_message`

// Create inserts a new PENDING job record.
func (r *JobRecordStorePG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, prompt, template, user_id, priority, config_json, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Prompt,
		job.Template,
		nullableString(job.UserID),
		job.Priority,
		job.ConfigJSON,
		job.Status,
		job.CreatedAt,
	)
	return err
}

// MarkProcessing transitions a PENDING record to PROCESSING and returns the
// full payload. The status guard means a record can only be claimed once,
// even if the same id were handed out twice.
func (r *JobRecordStorePG) MarkProcessing(ctx context.Context, jobID string, startedAt time.Time) (*domain.Job, error) {
	query := `
UPDATE jobs
SET status = $2, started_at = $3
WHERE id = $1 AND status = $4
RETURNING ` + jobColumns + `;
`
	row := r.pool.QueryRow(ctx, query, jobID, domain.JobStatusProcessing, startedAt, domain.JobStatusPending)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// Complete marks the record COMPLETED (empty errMsg) or FAILED. Only a
// PROCESSING record can be transitioned: terminal states are final, so a
// worker finishing after the stale sweep already failed its job cannot
// overwrite the sweep's verdict.
func (r *JobRecordStorePG) Complete(ctx context.Context, jobID string, resultRef, errMsg string) error {
	status := domain.JobStatusCompleted
	if errMsg != "" {
		status = domain.JobStatusFailed
	}
	query := `
UPDATE jobs
SET status = $2,
    completed_at = NOW(),
    result_ref = COALESCE(NULLIF($3, ''), result_ref),
    error_message = COALESCE(NULLIF($4, ''), error_message)
WHERE id = $1 AND status = $5;
`
	tag, err := r.pool.Exec(ctx, query, jobID, status, resultRef, errMsg, domain.JobStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		job, getErr := r.GetByID(ctx, jobID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("job %s is %s: %w", jobID, job.Status, domain.ErrJobTerminal)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRecordStorePG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`
	job, err := scanJob(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// SweepStale fails every PROCESSING record started before olderThan.
func (r *JobRecordStorePG) SweepStale(ctx context.Context, olderThan time.Time, message string) (int, error) {
	query := `
UPDATE jobs
SET status = $1, completed_at = NOW(), error_message = $2
WHERE status = $3 AND started_at < $4;
`
	tag, err := r.pool.Exec(ctx, query, domain.JobStatusFailed, message, domain.JobStatusProcessing, olderThan)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Counts returns pending/processing totals and how many jobs were created
// within the recent window.
func (r *JobRecordStorePG) Counts(ctx context.Context, recentWindow time.Duration) (int, int, int, error) {
	query := `
SELECT
    COUNT(*) FILTER (WHERE status = $1),
    COUNT(*) FILTER (WHERE status = $2),
    COUNT(*) FILTER (WHERE created_at > $3)
FROM jobs;
`
	cutoff := time.Now().UTC().Add(-recentWindow)
	var pending, processing, recent int
	err := r.pool.QueryRow(ctx, query, domain.JobStatusPending, domain.JobStatusProcessing, cutoff).
		Scan(&pending, &processing, &recent)
	if err != nil {
		return 0, 0, 0, err
	}
	return pending, processing, recent, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var userID, resultRef, errMsg *string
	if err := row.Scan(
		&job.ID,
		&job.Prompt,
		&job.Template,
		&userID,
		&job.Priority,
		&job.ConfigJSON,
		&job.Status,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&resultRef,
		&errMsg,
	); err != nil {
		return nil, err
	}
	if userID != nil {
		job.UserID = *userID
	}
	if resultRef != nil {
		job.ResultRef = *resultRef
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	return &job, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
