package dedup

import (
	"context"

	"github.com/dkaspars/attachsync/internal/server/models"
)

type Repository interface {
	// Claim inserts the (contentHash, scopeKey) entry for attachmentID if
	// none exists, atomically. Reports whether this attachment won the
	// claim; on a lost claim the existing entry is returned so the caller
	// can reuse its remote reference. At most one claim ever wins per key,
	// which is what bounds remote transfers to one per distinct content.
	Claim(ctx context.Context, contentHash, scopeKey, attachmentID string) (won bool, existing *models.DedupEntry, err error)

	Lookup(ctx context.Context, contentHash, scopeKey string) (*models.DedupEntry, error)
	// SetRemoteReference records the canonical remote object once the
	// winning transfer completes.
	SetRemoteReference(ctx context.Context, contentHash, scopeKey, remoteReference string) error
	IncrementDuplicates(ctx context.Context, contentHash, scopeKey string) error
	Delete(ctx context.Context, contentHash, scopeKey string) error
}
