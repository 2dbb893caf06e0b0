package resilience

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter is a token bucket whose rate grows on success and halves when the
// backend signals throttling. The rate stays within [initial/4, initial*2].
type Limiter struct {
	mu      sync.Mutex
	bucket  *rate.Limiter
	current rate.Limit
	floor   rate.Limit
	ceiling rate.Limit
}

// NewLimiter creates a Limiter allowing perSecond calls with the given burst.
// A non-positive perSecond disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{bucket: rate.NewLimiter(rate.Inf, 0), current: rate.Inf}
	}
	if burst <= 0 {
		burst = 1
	}
	r := rate.Limit(perSecond)
	return &Limiter{
		bucket:  rate.NewLimiter(r, burst),
		current: r,
		floor:   r / 4,
		ceiling: r * 2,
	}
}

// Wait blocks until a call is allowed or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}

// Succeeded raises the rate by a fifth.
func (l *Limiter) Succeeded() {
	l.adjust(1.2)
}

// Throttled halves the rate.
func (l *Limiter) Throttled() {
	if l.adjust(0.5) {
		zap.L().Warn("resilience: backend throttled, lowering rate",
			zap.Float64("rate", float64(l.Rate())),
		)
	}
}

// Rate returns the current limit.
func (l *Limiter) Rate() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Limiter) adjust(f float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == rate.Inf {
		return false
	}
	next := l.current * rate.Limit(f)
	next = min(max(next, l.floor), l.ceiling)
	if next == l.current {
		return false
	}
	l.current = next
	l.bucket.SetLimit(next)
	return true
}
