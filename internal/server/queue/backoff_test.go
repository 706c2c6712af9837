package queue

import (
	"testing"
	"time"

	"github.com/dkaspars/attachsync/internal/common"
)

func TestBackoffPolicy_Delay(t *testing.T) {
	p := DefaultBackoffPolicy()

	tests := []struct {
		name     string
		retry    int
		category common.Category
		want     time.Duration
	}{
		{name: "first retry", retry: 0, category: common.CategoryNetwork, want: 5 * time.Second},
		{name: "second retry doubles", retry: 1, category: common.CategoryNetwork, want: 10 * time.Second},
		{name: "third retry doubles again", retry: 2, category: common.CategoryNetwork, want: 20 * time.Second},
		{name: "capped", retry: 20, category: common.CategoryNetwork, want: 15 * time.Minute},
		{name: "rate limit backs off harder", retry: 0, category: common.CategoryRateLimit, want: 30 * time.Second},
		{name: "rate limit doubles from wider base", retry: 1, category: common.CategoryRateLimit, want: 60 * time.Second},
		{name: "rate limit capped", retry: 10, category: common.CategoryRateLimit, want: 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Delay(tt.retry, tt.category); got != tt.want {
				t.Fatalf("Delay(%d, %s) = %v, want %v", tt.retry, tt.category, got, tt.want)
			}
		})
	}
}

func TestBackoffPolicy_DelayIsMonotonicUntilCap(t *testing.T) {
	p := BackoffPolicy{Base: time.Second, Cap: time.Minute}
	prev := time.Duration(0)
	for i := 0; i < 10; i++ {
		d := p.Delay(i, common.CategoryNetwork)
		if d < prev {
			t.Fatalf("delay decreased at retry %d: %v < %v", i, d, prev)
		}
		if d > p.Cap {
			t.Fatalf("delay %v exceeds cap %v", d, p.Cap)
		}
		prev = d
	}
}

func TestBackoffPolicy_WithDefaults(t *testing.T) {
	// A policy carrying only base and cap still gets the rate-limit
	// multiplier.
	p := BackoffPolicy{Base: 5 * time.Second, Cap: 15 * time.Minute}.withDefaults()
	if p.RateLimitMultiplier != 6 {
		t.Fatalf("RateLimitMultiplier = %d, want 6", p.RateLimitMultiplier)
	}
	if got := p.Delay(0, common.CategoryRateLimit); got != 30*time.Second {
		t.Fatalf("rate-limit delay = %v, want 30s", got)
	}

	p = BackoffPolicy{}.withDefaults()
	if p != DefaultBackoffPolicy() {
		t.Fatalf("empty policy = %+v, want defaults", p)
	}
}
