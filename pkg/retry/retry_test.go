package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordSleeps(p *Policy) *[]time.Duration {
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return &slept
}

func TestDelay(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		attempt int
		want    time.Duration
	}{
		{"linear 1", Linear, 1, 100 * time.Millisecond},
		{"linear 3", Linear, 3, 300 * time.Millisecond},
		{"exponential 1", Exponential, 1, 100 * time.Millisecond},
		{"exponential 2", Exponential, 2, 200 * time.Millisecond},
		{"exponential 4", Exponential, 4, 800 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{BaseDelay: 100 * time.Millisecond, Backoff: tt.backoff}
			assert.Equal(t, tt.want, p.Delay(tt.attempt))
		})
	}
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	var retried []int
	p := Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		Backoff:    Linear,
		OnRetry:    func(attempt int, err error) { retried = append(retried, attempt) },
	}
	slept := recordSleeps(&p)

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestDoExhaustedReturnsLastError(t *testing.T) {
	p := Policy{MaxRetries: 3, BaseDelay: time.Second, Backoff: Exponential}
	slept := recordSleeps(&p)

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("fail " + string(rune('0'+attempt)))
	})

	require.EqualError(t, err, "fail 3")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *slept)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("rejected")
	p := Policy{
		MaxRetries: 5,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
	}
	recordSleeps(&p)

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoZeroRetriesRunsOnce(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{}, func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("x")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 3, BaseDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, p, func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("x")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}
