package subscriptions

import (
	"context"

	"github.com/dkaspars/attachsync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.WebhookSubscription) error
	GetByID(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error)
	// GetByCallbackURL resolves the newest subscription registered for a
	// callback, used to make startup provisioning idempotent.
	GetByCallbackURL(ctx context.Context, callbackURL string) (*models.WebhookSubscription, error)
	MarkVerified(ctx context.Context, subscriptionID string) error
	SetActive(ctx context.Context, subscriptionID string, active bool) error
}
