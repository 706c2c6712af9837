// Package dedup implements the content-hash deduplication index.
package dedup

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

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const dedupColumns = `content_hash, scope_key, first_attachment_id, remote_reference, duplicate_count, created_at`

func (r *PostgresRepository) Claim(ctx context.Context, contentHash, scopeKey, attachmentID string) (bool, *models.DedupEntry, error) {
	query := `
		INSERT INTO dedup_entries (content_hash, scope_key, first_attachment_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (content_hash, scope_key) DO NOTHING
	`
	result, err := r.db.ExecContext(ctx, query, contentHash, scopeKey, attachmentID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to claim dedup entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, nil, fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return true, nil, nil
	}
	existing, err := r.Lookup(ctx, contentHash, scopeKey)
	if err != nil {
		return false, nil, err
	}
	return false, existing, nil
}

func (r *PostgresRepository) Lookup(ctx context.Context, contentHash, scopeKey string) (*models.DedupEntry, error) {
	query := `SELECT ` + dedupColumns + ` FROM dedup_entries WHERE content_hash=$1 AND scope_key=$2`
	e := &models.DedupEntry{}
	err := r.db.QueryRowContext(ctx, query, contentHash, scopeKey).Scan(
		&e.ContentHash, &e.ScopeKey, &e.FirstAttachmentID, &e.RemoteReference, &e.DuplicateCount, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select dedup entry: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) SetRemoteReference(ctx context.Context, contentHash, scopeKey, remoteReference string) error {
	query := `UPDATE dedup_entries SET remote_reference=$3 WHERE content_hash=$1 AND scope_key=$2`
	return r.execOne(ctx, query, contentHash, scopeKey, remoteReference)
}

func (r *PostgresRepository) IncrementDuplicates(ctx context.Context, contentHash, scopeKey string) error {
	query := `UPDATE dedup_entries SET duplicate_count=duplicate_count+1 WHERE content_hash=$1 AND scope_key=$2`
	return r.execOne(ctx, query, contentHash, scopeKey)
}

func (r *PostgresRepository) Delete(ctx context.Context, contentHash, scopeKey string) error {
	query := `DELETE FROM dedup_entries WHERE content_hash=$1 AND scope_key=$2`
	return r.execOne(ctx, query, contentHash, scopeKey)
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
