package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff controls Retry.
type Backoff struct {
	// Attempts is the total number of tries. 1 disables retries.
	Attempts int
	// Initial is the delay before the first retry. Default 500ms.
	Initial time.Duration
	// Max caps any single delay. Default 10s.
	Max time.Duration
	// Factor multiplies the delay after each try. Default 2.
	Factor float64
	// Jitter spreads each delay by up to this fraction either way.
	Jitter float64
	// Retryable decides which errors are retried. Nil retries transient errors.
	Retryable func(err error) bool
	// Label names the operation in retry log lines.
	Label string
}

func (b Backoff) normalize() Backoff {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	if b.Initial <= 0 {
		b.Initial = 500 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 10 * time.Second
	}
	if b.Factor < 1 {
		b.Factor = 2
	}
	if b.Jitter < 0 {
		b.Jitter = 0
	}
	if b.Retryable == nil {
		b.Retryable = IsTransient
	}
	return b
}

// Delay returns the wait before retry number n (0-based).
func (b Backoff) Delay(n int) time.Duration {
	b = b.normalize()
	d := float64(b.Initial) * math.Pow(b.Factor, float64(n))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * b.Jitter
	}
	return time.Duration(max(d, 0))
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx ends. The last error is returned.
func Retry[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	b = b.normalize()
	var (
		zero T
		err  error
	)
	for attempt := 0; attempt < b.Attempts; attempt++ {
		var v T
		v, err = fn(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !b.Retryable(err) || attempt == b.Attempts-1 {
			return zero, err
		}

		delay := b.Delay(attempt)
		zap.L().Warn("resilience: retrying",
			zap.String("operation", b.Label),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
	return zero, err
}
