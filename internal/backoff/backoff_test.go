package backoff

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func TestDelayDoublesAndCaps(t *testing.T) {
	p := New(Config{Attempts: 10, BaseDelay: time.Second, MaxDelay: 10 * time.Second})

	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(80))
}

func TestExecuteSucceedsAfterFailures(t *testing.T) {
	sleeps := &recordedSleeps{}
	p := New(Config{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, WithSleep(sleeps.sleep))

	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeps.delays)
}

func TestExecuteExhausted(t *testing.T) {
	sleeps := &recordedSleeps{}
	p := New(Config{Attempts: 2, BaseDelay: time.Millisecond}, WithSleep(sleeps.sleep))

	last := errors.New("still broken")
	err := p.Execute(context.Background(), func(context.Context) error { return last })

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhaustedRetries)
	assert.ErrorIs(t, err, last)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Len(t, sleeps.delays, 1)
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("unauthorized")
	p := New(Config{Attempts: 5, BaseDelay: time.Millisecond},
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithRetryable(func(err error) bool { return !errors.Is(err, permanent) }),
	)

	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestJitterAddsToDelay(t *testing.T) {
	sleeps := &recordedSleeps{}
	p := New(Config{Attempts: 2, BaseDelay: 100 * time.Millisecond, Jitter: true},
		WithSleep(sleeps.sleep),
		WithJitterSource(func() time.Duration { return 250 * time.Millisecond }),
	)

	_ = p.Execute(context.Background(), func(context.Context) error { return errors.New("x") })
	assert.Equal(t, []time.Duration{350 * time.Millisecond}, sleeps.delays)
}

func TestRandomJitterRange(t *testing.T) {
	for range 1000 {
		j := randomJitter()
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.LessOrEqual(t, j, time.Second)
	}
}

func TestRetryAfterRaisesDelay(t *testing.T) {
	sleeps := &recordedSleeps{}
	p := New(Config{Attempts: 2, BaseDelay: 100 * time.Millisecond},
		WithSleep(sleeps.sleep),
		WithRetryAfter(func(error) time.Duration { return 3 * time.Second }),
	)

	_ = p.Execute(context.Background(), func(context.Context) error { return errors.New("429") })
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeps.delays)
}

func TestExecuteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(Config{Attempts: 5, BaseDelay: time.Hour})

	done := make(chan error, 1)
	go func() {
		done <- p.Execute(ctx, func(context.Context) error { return errors.New("down") })
	}()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestConcurrentCallsDoNotShareAttempts(t *testing.T) {
	p := New(Config{Attempts: 3, BaseDelay: time.Millisecond},
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	var total atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calls := 0
			err := p.Execute(context.Background(), func(context.Context) error {
				calls++
				total.Add(1)
				if calls < 3 {
					return errors.New("retry me")
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(30), total.Load())
}

func TestDoReturnsValue(t *testing.T) {
	p := New(Config{Attempts: 2, BaseDelay: time.Millisecond},
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	calls := 0
	got, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("first fails")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
