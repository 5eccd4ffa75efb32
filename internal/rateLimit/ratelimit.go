package rateLimit

import (
	"context"
	"time"

	"github.com/robertarktes/capacity-bookings/internal/observability"
)

// Counter is a shared fixed-window hit counter.
type Counter interface {
	Incr(ctx context.Context, key string, period time.Duration) (int64, error)
}

type RateLimiter struct {
	counter Counter
	logger  observability.Logger
}

func NewRateLimiter(counter Counter, logger observability.Logger) *RateLimiter {
	return &RateLimiter{counter: counter, logger: logger}
}

// Allow reports whether key is still within rate hits for the current
// period. A counter failure denies the request.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) bool {
	n, err := rl.counter.Incr(ctx, key, period)
	if err != nil {
		rl.logger.WithError(err).WithField("key", key).Warn("rate limit counter failed")
		return false
	}
	if n > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false
	}
	return true
}
