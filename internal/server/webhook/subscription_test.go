package webhook

import (
	"context"
	"testing"

	"github.com/dkaspars/attachsync/internal/server/models"
)

func TestProvision(t *testing.T) {
	subs := &fakeSubscriptions{subs: map[string]*models.WebhookSubscription{}}

	sub, err := Provision(context.Background(), subs, "https://tool.example/webhook")
	if err != nil {
		t.Fatalf("Provision error: %v", err)
	}
	if sub.SubscriptionID == "" {
		t.Fatal("missing subscription id")
	}
	if len(sub.Secret) != secretSize*2 {
		t.Fatalf("secret length = %d, want %d hex chars", len(sub.Secret), secretSize*2)
	}
	if !sub.IsActive {
		t.Fatal("new subscription must be active")
	}
	if _, ok := subs.subs[sub.SubscriptionID]; !ok {
		t.Fatal("subscription not persisted")
	}

	// The generated secret must round-trip through signing.
	body := []byte(`{"ping":true}`)
	if !Verify(body, Sign(body, sub.Secret), sub.Secret) {
		t.Fatal("generated secret failed verification round trip")
	}

	other, err := NewSubscription("https://tool.example/webhook")
	if err != nil {
		t.Fatalf("NewSubscription error: %v", err)
	}
	if other.Secret == sub.Secret {
		t.Fatal("secrets must be unique per subscription")
	}
}

func TestEnsure_ProvisionsOnceAcrossRestarts(t *testing.T) {
	subs := &fakeSubscriptions{subs: map[string]*models.WebhookSubscription{}}
	ctx := context.Background()

	first, created, err := Ensure(ctx, subs, "https://tool.example/webhook")
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if !created {
		t.Fatal("first Ensure must provision")
	}

	// A restart reuses the stored subscription; a fresh one would break
	// verification of deliveries signed with the old secret.
	second, created, err := Ensure(ctx, subs, "https://tool.example/webhook")
	if err != nil {
		t.Fatalf("Ensure error: %v", err)
	}
	if created {
		t.Fatal("second Ensure must not provision again")
	}
	if second.SubscriptionID != first.SubscriptionID || second.Secret != first.Secret {
		t.Fatalf("subscription changed across restarts: %+v vs %+v", first, second)
	}
	if len(subs.subs) != 1 {
		t.Fatalf("expected 1 stored subscription, got %d", len(subs.subs))
	}
}
