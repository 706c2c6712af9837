package sessions

import (
	"context"
	"time"

	"github.com/dkaspars/attachsync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.UploadSession) error
	GetByID(ctx context.Context, sessionID string) (*models.UploadSession, error)

	// AddRange records a covered byte range. Re-submitting an already
	// recorded range is a no-op; ChunksReceived grows only for distinct
	// ranges. Reports whether the range was new.
	AddRange(ctx context.Context, sessionID string, startByte, endByte int64) (bool, error)
	ListRanges(ctx context.Context, sessionID string) ([]models.ChunkRange, error)

	Delete(ctx context.Context, sessionID string) error
	// ListExpired returns sessions whose TTL elapsed before now.
	ListExpired(ctx context.Context, now time.Time) ([]*models.UploadSession, error)
}
