package graph

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"
)

func TestComputeBackoff(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := 10 * time.Millisecond

	t.Run("grows exponentially with bounded jitter", func(t *testing.T) {
		for attempt := 0; attempt < 4; attempt++ {
			d := computeBackoff(attempt, base, 0, rng)
			lo := base * (1 << attempt)
			if d < lo || d >= lo+base {
				t.Errorf("attempt %d: delay %v outside [%v, %v)", attempt, d, lo, lo+base)
			}
		}
	})

	t.Run("caps the exponential part at maxDelay", func(t *testing.T) {
		d := computeBackoff(10, base, 50*time.Millisecond, rng)
		if d < 50*time.Millisecond || d >= 60*time.Millisecond {
			t.Errorf("delay %v outside [50ms, 60ms)", d)
		}
	})

	t.Run("zero base means no delay", func(t *testing.T) {
		if d := computeBackoff(3, 0, time.Second, rng); d != 0 {
			t.Errorf("expected 0, got %v", d)
		}
	})

	t.Run("huge attempt does not overflow", func(t *testing.T) {
		if d := computeBackoff(1000, time.Nanosecond, 0, rng); d <= 0 {
			t.Errorf("expected positive delay, got %v", d)
		}
	})
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  RetryPolicy
		wantErr bool
	}{
		{name: "single attempt", policy: RetryPolicy{MaxAttempts: 1}},
		{name: "with delays", policy: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second}},
		{name: "zero attempts", policy: RetryPolicy{}, wantErr: true},
		{name: "max below base", policy: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Millisecond}, wantErr: true},
		{name: "negative delay", policy: RetryPolicy{MaxAttempts: 2, BaseDelay: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr != (err != nil) {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRetryPolicy) {
				t.Errorf("expected ErrInvalidRetryPolicy, got %v", err)
			}
		})
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	transient := errors.New("transient")
	rp := &RetryPolicy{
		MaxAttempts: 3,
		Retryable:   func(err error) bool { return errors.Is(err, transient) },
	}

	if !rp.shouldRetry(0, transient) || !rp.shouldRetry(1, transient) {
		t.Error("expected retries within the attempt budget")
	}
	if rp.shouldRetry(2, transient) {
		t.Error("third attempt is the last")
	}
	if rp.shouldRetry(0, errors.New("fatal")) {
		t.Error("non-retryable error must not be retried")
	}

	var nilPolicy *RetryPolicy
	if nilPolicy.shouldRetry(0, transient) {
		t.Error("nil policy never retries")
	}
}

func TestGetNodeTimeout(t *testing.T) {
	if got := getNodeTimeout(&NodePolicy{Timeout: time.Second}, time.Minute); got != time.Second {
		t.Errorf("policy timeout should win, got %v", got)
	}
	if got := getNodeTimeout(&NodePolicy{}, time.Minute); got != time.Minute {
		t.Errorf("default timeout should apply, got %v", got)
	}
	if got := getNodeTimeout(nil, 0); got != 0 {
		t.Errorf("expected no timeout, got %v", got)
	}
}

func TestInvokeWithTimeout(t *testing.T) {
	t.Run("returns the call outcome", func(t *testing.T) {
		out := invokeWithTimeout(context.Background(), "n", time.Second, func(context.Context) outcome {
			return outcome{content: "ok"}
		})
		if out.err != nil || out.content != "ok" {
			t.Errorf("unexpected outcome %+v", out)
		}
	})

	t.Run("abandons a worker that ignores its context", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)

		out := invokeWithTimeout(context.Background(), "slow", 10*time.Millisecond, func(context.Context) outcome {
			<-block
			return outcome{content: "late"}
		})
		if !out.timedOut {
			t.Fatalf("expected timeout, got %+v", out)
		}
		var te *NodeTimeoutError
		if !errors.As(out.err, &te) || te.Node != "slow" {
			t.Errorf("expected NodeTimeoutError for slow, got %v", out.err)
		}
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out := invokeWithTimeout(ctx, "n", time.Second, func(ctx context.Context) outcome {
			<-ctx.Done()
			return outcome{err: ctx.Err()}
		})
		if out.timedOut || !out.cancelled {
			t.Errorf("expected cancelled outcome, got %+v", out)
		}
	})
}
