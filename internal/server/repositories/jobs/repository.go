package jobs

import (
	"context"
	"time"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/server/models"
)

type Repository interface {
	Enqueue(ctx context.Context, job *models.SyncJob) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.SyncJob, error)

	// ClaimNext atomically moves the best queued job to processing and
	// returns it. Within an attachment only the oldest non-terminal job
	// is claimable, which preserves per-attachment submission order even
	// across concurrent claims. Returns nil when nothing is claimable.
	ClaimNext(ctx context.Context) (*models.SyncJob, error)

	MarkCompleted(ctx context.Context, id int64) error
	// MarkFailed records the failure disposition. nextRetryAt must be nil
	// for terminal failures.
	MarkFailed(ctx context.Context, id int64, category common.Category, message string, nextRetryAt *time.Time) error
	// RequeueDue returns failed, retryable jobs whose next_retry_at has
	// elapsed back to the queue. Reports how many jobs moved.
	RequeueDue(ctx context.Context, now time.Time) (int64, error)

	CountByStatus(ctx context.Context, status models.JobStatus) (int64, error)
}
