package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkaspars/attachsync/internal/common"
	"github.com/dkaspars/attachsync/internal/server/models"
	"github.com/dkaspars/attachsync/internal/server/repositories/subscriptions"
)

// secretSize is the number of random bytes behind a subscription secret.
const secretSize = 32

// NewSubscription builds an active subscription with a fresh id and a
// random signing secret. The secret is returned exactly once, here; it is
// what the caller registers with the remote tracker.
func NewSubscription(callbackURL string) (*models.WebhookSubscription, error) {
	secret, err := common.MakeRandHexString(secretSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate subscription secret: %w", err)
	}
	return &models.WebhookSubscription{
		SubscriptionID: uuid.NewString(),
		CallbackURL:    callbackURL,
		Secret:         secret,
		IsActive:       true,
		CreatedAt:      time.Now(),
	}, nil
}

// Provision creates and persists a subscription for the given callback.
func Provision(ctx context.Context, repo subscriptions.Repository, callbackURL string) (*models.WebhookSubscription, error) {
	sub, err := NewSubscription(callbackURL)
	if err != nil {
		return nil, err
	}
	if err := repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to store subscription: %w", err)
	}
	return sub, nil
}

// Ensure returns the subscription registered for callbackURL, provisioning
// a fresh one when none exists yet. The second return reports whether a
// new subscription was created; only then is the secret worth surfacing,
// the tracker still has to learn it.
func Ensure(ctx context.Context, repo subscriptions.Repository, callbackURL string) (*models.WebhookSubscription, bool, error) {
	sub, err := repo.GetByCallbackURL(ctx, callbackURL)
	if err == nil {
		return sub, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up subscription: %w", err)
	}
	sub, err = Provision(ctx, repo, callbackURL)
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}
