package models

import "time"

// WebhookSubscription is a registered inbound notification channel.
// Secret is the HMAC key used to verify payload signatures.
type WebhookSubscription struct {
	SubscriptionID string
	CallbackURL    string
	Secret         string
	IsActive       bool
	VerifiedAt     *time.Time
	CreatedAt      time.Time
}
