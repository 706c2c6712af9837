// Package jobs implements the persistent sync job queue. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never process the same job
// twice, and only ever claims the oldest live job per attachment, which
// gives per-attachment causal ordering across processes.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/dbx"
	"github.com/dkaspars/attachsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const jobColumns = `id, work_item_id, attachment_id, job_type, status, priority,
		retry_count, max_retries, payload, error_category, error_message,
		next_retry_at, created_at, updated_at`

func (r *PostgresRepository) Enqueue(ctx context.Context, job *models.SyncJob) (int64, error) {
	if job.MaxRetries <= 0 {
		job.MaxRetries = 3
	}
	if job.Priority == 0 {
		job.Priority = models.DefaultPriority
	}
	payload := job.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := `
		INSERT INTO sync_jobs (work_item_id, attachment_id, job_type, status, priority, max_retries, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		job.WorkItemID, job.AttachmentID, job.JobType, models.JobQueued,
		job.Priority, job.MaxRetries, payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.SyncJob, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs WHERE id=$1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select job: %w", err)
	}
	return job, nil
}

// ClaimNext claims the best queued job whose attachment has no earlier
// live job. The exclusion is phrased against the oldest non-terminal
// sibling rather than "no processing sibling": a concurrent claimer's
// read-committed snapshot may still see a just-claimed sibling as queued,
// but queued and processing are both non-terminal, so the later job is
// excluded either way and cannot overtake.
func (r *PostgresRepository) ClaimNext(ctx context.Context) (*models.SyncJob, error) {
	query := `
		UPDATE sync_jobs SET status='processing', updated_at=NOW()
		WHERE id = (
			SELECT j.id FROM sync_jobs j
			WHERE j.status='queued'
			AND (j.attachment_id = '' OR j.id = (
				SELECT MIN(s.id) FROM sync_jobs s
				WHERE s.attachment_id = j.attachment_id
					AND s.status IN ('queued','processing')
			))
			ORDER BY j.priority, j.id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE sync_jobs SET status='completed', error_category='', error_message='',
			next_retry_at=NULL, updated_at=NOW()
		WHERE id=$1 AND status='processing'
	`
	return r.execOne(ctx, query, id)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, category common.Category, message string, nextRetryAt *time.Time) error {
	query := `
		UPDATE sync_jobs SET status='failed', retry_count=retry_count+1,
			error_category=$2, error_message=$3, next_retry_at=$4, updated_at=NOW()
		WHERE id=$1 AND status='processing'
	`
	return r.execOne(ctx, query, id, category, message, nextRetryAt)
}

func (r *PostgresRepository) RequeueDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE sync_jobs SET status='queued', next_retry_at=NULL, updated_at=NOW()
		WHERE status='failed' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
			AND retry_count < max_retries
	`
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue jobs: %w", err)
	}
	return result.RowsAffected()
}

func (r *PostgresRepository) CountByStatus(ctx context.Context, status models.JobStatus) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_jobs WHERE status=$1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("wrong rows affected count %d: %w", n, common.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.SyncJob, error) {
	job := &models.SyncJob{}
	var nextRetry sql.NullTime
	err := row.Scan(&job.ID, &job.WorkItemID, &job.AttachmentID, &job.JobType, &job.Status,
		&job.Priority, &job.RetryCount, &job.MaxRetries, &job.Payload,
		&job.ErrorCategory, &job.ErrorMessage, &nextRetry, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if nextRetry.Valid {
		job.NextRetryAt = &nextRetry.Time
	}
	return job, nil
}
