package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollSucceedsImmediately(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), PollOptions{Interval: time.Hour, Timeout: time.Hour},
		func(ctx context.Context) (bool, error) {
			calls++
			return true, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "first check must run before any interval wait")
}

func TestPollWaitsForCondition(t *testing.T) {
	calls := 0
	err := Poll(context.Background(), PollOptions{Interval: time.Millisecond, Timeout: time.Second},
		func(ctx context.Context) (bool, error) {
			calls++
			return calls >= 3, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPollTimesOut(t *testing.T) {
	err := Poll(context.Background(), PollOptions{Interval: time.Millisecond, Timeout: 20 * time.Millisecond},
		func(ctx context.Context) (bool, error) {
			return false, nil
		})
	assert.Equal(t, ErrPollTimeout, err)
}

func TestPollAbortsOnConditionError(t *testing.T) {
	sentinel := errors.New("provider unreachable")
	calls := 0
	err := Poll(context.Background(), PollOptions{Interval: time.Millisecond, Timeout: time.Second},
		func(ctx context.Context) (bool, error) {
			calls++
			return false, sentinel
		})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls, "a condition error must abort the wait immediately")
}

func TestPollHonorsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Poll(ctx, PollOptions{Interval: time.Hour, Timeout: time.Hour},
		func(ctx context.Context) (bool, error) {
			return false, nil
		})
	require.Error(t, err)
	assert.NotEqual(t, ErrPollTimeout, err, "caller cancellation is not a timeout")
}
