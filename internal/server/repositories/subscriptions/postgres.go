// Package subscriptions implements webhook subscription storage.
package subscriptions

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

func (r *PostgresRepository) Create(ctx context.Context, s *models.WebhookSubscription) error {
	query := `
		INSERT INTO webhook_subscriptions (subscription_id, callback_url, secret, is_active)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, s.SubscriptionID, s.CallbackURL, s.Secret, s.IsActive)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, subscriptionID string) (*models.WebhookSubscription, error) {
	query := `
		SELECT subscription_id, callback_url, secret, is_active, verified_at, created_at
		FROM webhook_subscriptions WHERE subscription_id=$1
	`
	s := &models.WebhookSubscription{}
	var verifiedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, subscriptionID).Scan(
		&s.SubscriptionID, &s.CallbackURL, &s.Secret, &s.IsActive, &verifiedAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select subscription: %w", err)
	}
	if verifiedAt.Valid {
		s.VerifiedAt = &verifiedAt.Time
	}
	return s, nil
}

func (r *PostgresRepository) GetByCallbackURL(ctx context.Context, callbackURL string) (*models.WebhookSubscription, error) {
	query := `
		SELECT subscription_id, callback_url, secret, is_active, verified_at, created_at
		FROM webhook_subscriptions WHERE callback_url=$1
		ORDER BY created_at DESC LIMIT 1
	`
	s := &models.WebhookSubscription{}
	var verifiedAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, callbackURL).Scan(
		&s.SubscriptionID, &s.CallbackURL, &s.Secret, &s.IsActive, &verifiedAt, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select subscription: %w", err)
	}
	if verifiedAt.Valid {
		s.VerifiedAt = &verifiedAt.Time
	}
	return s, nil
}

func (r *PostgresRepository) MarkVerified(ctx context.Context, subscriptionID string) error {
	query := `UPDATE webhook_subscriptions SET verified_at=NOW() WHERE subscription_id=$1`
	return r.execOne(ctx, query, subscriptionID)
}

func (r *PostgresRepository) SetActive(ctx context.Context, subscriptionID string, active bool) error {
	query := `UPDATE webhook_subscriptions SET is_active=$2 WHERE subscription_id=$1`
	return r.execOne(ctx, query, subscriptionID, active)
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
