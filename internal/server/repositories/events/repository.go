package events

import (
	"context"

	"github.com/dkaspars/attachsync/internal/server/models"
)

type Repository interface {
	// Append writes one immutable event log entry. Entries are never
	// updated or deleted.
	Append(ctx context.Context, e *models.Event) error
	// DedupeKeyExists reports whether an accepted webhook event with the
	// given idempotency key was already logged.
	DedupeKeyExists(ctx context.Context, dedupeKey string) (bool, error)
	ListByAttachment(ctx context.Context, attachmentID string, limit int) ([]*models.Event, error)
}
