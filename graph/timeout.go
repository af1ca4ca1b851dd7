package graph

import (
	"context"
	"errors"
	"time"
)

// getNodeTimeout determines the timeout for a node based on precedence:
//  1. NodePolicy.Timeout (per-node override)
//  2. defaultTimeout (engine-wide default)
//  3. 0 (no timeout)
func getNodeTimeout(policy *NodePolicy, defaultTimeout time.Duration) time.Duration {
	if policy != nil && policy.Timeout > 0 {
		return policy.Timeout
	}
	if defaultTimeout > 0 {
		return defaultTimeout
	}
	return 0
}

// invokeWithTimeout runs call under the node's timeout.
//
// call runs on its own goroutine so that a worker ignoring its context cannot
// hold the round past the deadline; such a worker is abandoned and its late
// result dropped. The returned outcome has timedOut set when the node's
// deadline, not the parent context, ended the invocation.
func invokeWithTimeout(
	ctx context.Context,
	nodeID string,
	timeout time.Duration,
	call func(ctx context.Context) outcome,
) outcome {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		done <- call(callCtx)
	}()

	timedOut := func() outcome {
		return outcome{
			err:      &NodeTimeoutError{Node: nodeID, Timeout: timeout.String()},
			timedOut: true,
		}
	}

	select {
	case out := <-done:
		if ctx.Err() != nil {
			return outcome{err: ctx.Err(), cancelled: true}
		}
		if out.err != nil && timeout > 0 && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return timedOut()
		}
		return out
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return outcome{err: ctx.Err(), cancelled: true}
		}
		return timedOut()
	}
}
