package retry

import (
	"context"
	"errors"
	"time"
)

// ErrPollTimeout is returned when the condition did not hold within the
// bounded window.
var ErrPollTimeout = errors.New("condition not met within timeout")

// PollOptions bound a propagation wait. The interval is fixed rather than
// exponential: propagation waits poll a dependent condition (instance
// running, profile attachment visible) where the expected latency is roughly
// constant and the bound is the safety net.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Poll evaluates condition at a fixed interval until it returns true, the
// timeout elapses, or the context is cancelled. A condition error aborts the
// wait immediately: an unreachable provider must surface, not be mistaken
// for "not yet".
func Poll(ctx context.Context, opts PollOptions, condition func(ctx context.Context) (bool, error)) error {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	// First check happens immediately, not after one interval.
	for {
		ok, err := condition(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrPollTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
