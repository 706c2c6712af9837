package attachments

import (
	"context"

	"github.com/dkaspars/attachsync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, a *models.Attachment) error
	GetByID(ctx context.Context, attachmentID string) (*models.Attachment, error)
	// GetByRemoteReference resolves the local record mirroring the given
	// remote object, if any. Used by webhook ingress and reconciliation.
	GetByRemoteReference(ctx context.Context, workItemID, remoteReference string) (*models.Attachment, error)
	ListByWorkItem(ctx context.Context, workItemID string, includeDeleted bool) ([]*models.Attachment, error)
	UpdateStatus(ctx context.Context, attachmentID string, status models.SyncStatus) error
	SetRemote(ctx context.Context, attachmentID, remoteReference, remoteRevision string) error
	SetContentHash(ctx context.Context, attachmentID, contentHash string) error
	IncrementRetryCount(ctx context.Context, attachmentID string) error
	// SoftDelete marks the record deleted. Called only by the worker
	// completing a delete job.
	SoftDelete(ctx context.Context, attachmentID string) error
	StatusSummary(ctx context.Context, workItemID string) (*models.StatusSummary, error)
}
