package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped transient", fmt.Errorf("predict: %w", Transient(errors.New("x"), 502)), true},
		{"net timeout", timeoutErr{}, true},
		{"reset message", errors.New("read tcp: connection reset by peer"), true},
		{"plain", errors.New("invalid sequence"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Errorf("%s: IsTransient = %v, want %v", tc.name, got, tc.want)
		}
	}
	if Transient(nil, 500) != nil {
		t.Error("Transient(nil) should be nil")
	}
}

func TestIsTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404, 422} {
		if IsTransientStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}

func TestLimiter_Adjusts(t *testing.T) {
	l := NewLimiter(10, 1)
	l.Throttled()
	if l.Rate() != 5 {
		t.Errorf("rate after throttle = %v", l.Rate())
	}
	l.Throttled()
	l.Throttled()
	if l.Rate() != 2.5 {
		t.Errorf("rate should floor at 2.5, got %v", l.Rate())
	}
	for i := 0; i < 20; i++ {
		l.Succeeded()
	}
	if l.Rate() != 20 {
		t.Errorf("rate should cap at 20, got %v", l.Rate())
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	l.Throttled()
	if l.Rate() != rate.Inf {
		t.Errorf("unlimited limiter changed rate to %v", l.Rate())
	}
}
