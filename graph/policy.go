package graph

import (
	"math/rand"
	"time"
)

// NodePolicy configures the execution behavior for a specific node.
//
// Policies are attached with WithPolicy. Zero fields fall back to engine
// options.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for one invocation.
	// If zero, Options.NodeTimeout is used.
	Timeout time.Duration

	// RetryPolicy specifies automatic retry behavior for transient failures.
	// If nil, no retries are attempted.
	RetryPolicy *RetryPolicy
}

// RetryPolicy defines automatic retry configuration for transient worker
// failures.
//
// Exponential backoff with jitter is used between attempts. Only the outcome
// of the final attempt is committed to the log.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	// Must be >= 1. A value of 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	BaseDelay time.Duration

	// MaxDelay caps the exponential component. Zero means no cap.
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt.
	// If nil, all errors are considered non-retryable.
	Retryable func(error) bool
}

// computeBackoff returns the delay before retry number attempt (0-based):
//
//	min(base * 2^attempt, maxDelay) + jitter[0, base)
//
// A nil rng uses the shared math/rand source.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt > 30 {
		attempt = 30
	}

	exponentialDelay := base * (1 << attempt)
	if maxDelay > 0 && exponentialDelay > maxDelay {
		exponentialDelay = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	} else {
		jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
	}

	return exponentialDelay + jitter
}

// Validate checks if the RetryPolicy configuration is valid.
// Returns ErrInvalidRetryPolicy if any constraint is violated:
//   - MaxAttempts must be >= 1
//   - If both MaxDelay and BaseDelay are > 0, MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.BaseDelay < 0 || rp.MaxDelay < 0 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}

func (rp *RetryPolicy) shouldRetry(attempt int, err error) bool {
	if rp == nil || rp.Retryable == nil {
		return false
	}
	return attempt+1 < rp.MaxAttempts && rp.Retryable(err)
}

func retryPolicyOf(p *NodePolicy) *RetryPolicy {
	if p == nil {
		return nil
	}
	return p.RetryPolicy
}
