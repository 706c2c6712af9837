// Package events implements the append-only event log.
package events

import (
	"context"
	"fmt"

	"github.com/dkaspars/attachsync/internal/dbx"
	"github.com/dkaspars/attachsync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, e *models.Event) error {
	context_ := e.Context
	if len(context_) == 0 {
		context_ = []byte("{}")
	}
	query := `
		INSERT INTO event_log (event_type, severity, source, work_item_id, attachment_id, dedupe_key, message, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.EventType, e.Severity, e.Source, e.WorkItemID, e.AttachmentID,
		e.DedupeKey, e.Message, context_)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DedupeKeyExists(ctx context.Context, dedupeKey string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM event_log WHERE dedupe_key=$1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, dedupeKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check dedupe key: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) ListByAttachment(ctx context.Context, attachmentID string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_type, severity, source, work_item_id, attachment_id, dedupe_key, message, context, created_at
		FROM event_log
		WHERE attachment_id=$1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, attachmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select events: %w", err)
	}
	defer rows.Close()

	var result []*models.Event
	for rows.Next() {
		e := &models.Event{}
		if err := rows.Scan(&e.ID, &e.EventType, &e.Severity, &e.Source, &e.WorkItemID,
			&e.AttachmentID, &e.DedupeKey, &e.Message, &e.Context, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
