package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{ timeout bool }

func (e timeoutErr) Error() string   { return "net" }
func (e timeoutErr) Timeout() bool   { return e.timeout }
func (e timeoutErr) Temporary() bool { return false }

var _ net.Error = timeoutErr{}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	p := New()
	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(errors.New("boom"), 1))
	require.False(t, p.ShouldRetry(errors.New("boom"), 3))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.True(t, p.ShouldRetry(timeoutErr{timeout: true}, 1))
	require.False(t, p.ShouldRetry(timeoutErr{timeout: false}, 1))
	require.False(t, p.ShouldRetry(Permanent{Err: errors.New("bad json")}, 1))
	require.True(t, p.ShouldRetry(Retryable{Err: context.DeadlineExceeded}, 1))
}

func TestBackoffIsBounded(t *testing.T) {
	t.Parallel()

	p := New(WithDelays(100*time.Millisecond, 400*time.Millisecond))
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	p := New(WithMaxAttempts(4), WithDelays(time.Millisecond, 2*time.Millisecond))
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanent(t *testing.T) {
	t.Parallel()

	p := New(WithDelays(time.Millisecond, time.Millisecond))
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent{Err: errors.New("malformed")}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	p := New(WithMaxAttempts(2), WithDelays(time.Millisecond, time.Millisecond))
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.EqualError(t, err, "down")
	require.Equal(t, 2, calls)
}
