package queue

import (
	"time"

	"github.com/dkaspars/attachsync/internal/common"
)

// BackoffPolicy computes retry delays: base * 2^retryCount, capped, with a
// larger multiplier for rate-limit failures so throttled calls back off
// harder.
type BackoffPolicy struct {
	Base                time.Duration
	Cap                 time.Duration
	RateLimitMultiplier int64
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:                5 * time.Second,
		Cap:                 15 * time.Minute,
		RateLimitMultiplier: 6,
	}
}

// withDefaults fills unset fields so a partially configured policy (base
// and cap from the config file, say) still applies the rate-limit
// multiplier.
func (p BackoffPolicy) withDefaults() BackoffPolicy {
	def := DefaultBackoffPolicy()
	if p.Base <= 0 {
		p.Base = def.Base
	}
	if p.Cap <= 0 {
		p.Cap = def.Cap
	}
	if p.RateLimitMultiplier <= 1 {
		p.RateLimitMultiplier = def.RateLimitMultiplier
	}
	return p
}

// Delay returns how long a job failing for the retryCount-th time should
// wait before re-entering the queue.
func (p BackoffPolicy) Delay(retryCount int, category common.Category) time.Duration {
	base := p.Base
	if category == common.CategoryRateLimit && p.RateLimitMultiplier > 1 {
		base = time.Duration(int64(base) * p.RateLimitMultiplier)
	}
	delay := base
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.Cap {
			return p.Cap
		}
	}
	if delay > p.Cap {
		return p.Cap
	}
	return delay
}
