// Package attachments implements attachment record storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/dbx"
	"github.com/dkaspars/attachsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const attachmentColumns = `attachment_id, work_item_id, file_name, file_size, content_hash,
		mime_type, source, remote_reference, remote_revision, local_path,
		sync_status, retry_count, created_at, updated_at, deleted_at`

func (r *PostgresRepository) Create(ctx context.Context, a *models.Attachment) error {
	query := `
		INSERT INTO attachments (attachment_id, work_item_id, file_name, file_size, content_hash,
			mime_type, source, remote_reference, remote_revision, local_path, sync_status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.AttachmentID, a.WorkItemID, a.FileName, a.FileSize, a.ContentHash,
		a.MimeType, a.Source, a.RemoteReference, a.RemoteRevision, a.LocalPath, a.SyncStatus)
	if err != nil {
		return fmt.Errorf("failed to insert attachment: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, attachmentID string) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE attachment_id=$1`

	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, attachmentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select attachment: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) GetByRemoteReference(ctx context.Context, workItemID, remoteReference string) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments
		WHERE work_item_id=$1 AND remote_reference=$2 AND deleted_at IS NULL`

	a, err := scanAttachment(r.db.QueryRowContext(ctx, query, workItemID, remoteReference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select attachment by remote reference: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) ListByWorkItem(ctx context.Context, workItemID string, includeDeleted bool) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE work_item_id=$1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, attachmentID string, status models.SyncStatus) error {
	query := `UPDATE attachments SET sync_status=$2, updated_at=NOW() WHERE attachment_id=$1`
	return r.execOne(ctx, query, attachmentID, status)
}

func (r *PostgresRepository) SetRemote(ctx context.Context, attachmentID, remoteReference, remoteRevision string) error {
	query := `UPDATE attachments SET remote_reference=$2, remote_revision=$3, updated_at=NOW() WHERE attachment_id=$1`
	return r.execOne(ctx, query, attachmentID, remoteReference, remoteRevision)
}

func (r *PostgresRepository) SetContentHash(ctx context.Context, attachmentID, contentHash string) error {
	query := `UPDATE attachments SET content_hash=$2, updated_at=NOW() WHERE attachment_id=$1`
	return r.execOne(ctx, query, attachmentID, contentHash)
}

func (r *PostgresRepository) IncrementRetryCount(ctx context.Context, attachmentID string) error {
	query := `UPDATE attachments SET retry_count=retry_count+1, updated_at=NOW() WHERE attachment_id=$1`
	return r.execOne(ctx, query, attachmentID)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, attachmentID string) error {
	query := `UPDATE attachments SET sync_status=$2, deleted_at=NOW(), updated_at=NOW()
		WHERE attachment_id=$1 AND deleted_at IS NULL`
	return r.execOne(ctx, query, attachmentID, models.StatusDeleted)
}

// StatusSummary aggregates the non-persisted per-work-item read model.
func (r *PostgresRepository) StatusSummary(ctx context.Context, workItemID string) (*models.StatusSummary, error) {
	query := `
		SELECT sync_status, COUNT(*), COALESCE(SUM(file_size), 0), MAX(updated_at)
		FROM attachments
		WHERE work_item_id=$1
		GROUP BY sync_status
	`
	rows, err := r.db.QueryContext(ctx, query, workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate attachments: %w", err)
	}
	defer rows.Close()

	summary := &models.StatusSummary{
		WorkItemID: workItemID,
		Counts:     make(map[models.SyncStatus]int),
	}
	for rows.Next() {
		var status models.SyncStatus
		var count int
		var bytes int64
		var updated sql.NullTime
		if err := rows.Scan(&status, &count, &bytes, &updated); err != nil {
			return nil, err
		}
		summary.Counts[status] = count
		summary.TotalBytes += bytes
		if updated.Valid && updated.Time.After(summary.LastModified) {
			summary.LastModified = updated.Time
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summary, nil
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

func scanAttachment(row rowScanner) (*models.Attachment, error) {
	a := &models.Attachment{}
	var contentHash sql.NullString
	var deletedAt sql.NullTime
	err := row.Scan(&a.AttachmentID, &a.WorkItemID, &a.FileName, &a.FileSize, &contentHash,
		&a.MimeType, &a.Source, &a.RemoteReference, &a.RemoteRevision, &a.LocalPath,
		&a.SyncStatus, &a.RetryCount, &a.CreatedAt, &a.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	a.ContentHash = contentHash.String
	if deletedAt.Valid {
		a.DeletedAt = &deletedAt.Time
	}
	return a, nil
}
