package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastBackoff(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errBackend
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", v, calls)
	}
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid smiles")
	_, err := Retry(context.Background(), fastBackoff(5), func(context.Context) (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastBackoff(4), func(context.Context) (int, error) {
		calls++
		return 0, errBackend
	})
	if !errors.Is(err, errBackend) {
		t.Errorf("expected backend error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetry_DefaultIsSingleAttempt(t *testing.T) {
	calls := 0
	_, _ = Retry(context.Background(), Backoff{}, func(context.Context) (int, error) {
		calls++
		return 0, errBackend
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Retry(ctx, Backoff{Attempts: 3, Initial: time.Hour}, func(context.Context) (int, error) {
			calls++
			return 0, errBackend
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond, Factor: 2}
	if d := b.Delay(0); d != 100*time.Millisecond {
		t.Errorf("delay 0 = %v", d)
	}
	if d := b.Delay(1); d != 200*time.Millisecond {
		t.Errorf("delay 1 = %v", d)
	}
	if d := b.Delay(5); d != 300*time.Millisecond {
		t.Errorf("delay 5 = %v, want capped", d)
	}

	b.Jitter = 0.5
	for i := 0; i < 20; i++ {
		d := b.Delay(0)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}
