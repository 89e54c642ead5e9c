package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func (t *recordingTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	return t.c
}

type statusErr struct{ code int }

func (e *statusErr) Error() string { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) RateLimited() bool { return e.code == 429 }

func newTestExecutor(maxRetries int) (*Executor, *recordingTimer) {
	timer := &recordingTimer{}
	e := NewExecutor(Config{MaxRetries: maxRetries, BaseDelay: time.Second}, zerolog.Nop(), WithTimer(timer))
	return e, timer
}

func TestExecutor_BacksOffOnRateLimit(t *testing.T) {
	e, timer := newTestExecutor(5)

	calls := 0
	got, err := Value(context.Background(), e, "test", func(ctx context.Context) (string, error) {
		calls++
		if calls <= 3 {
			return "", &statusErr{code: 429}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, timer.delays)
}

func TestExecutor_GivesUpAfterMaxRetries(t *testing.T) {
	e, timer := newTestExecutor(5)

	calls := 0
	err := e.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("stats: %w", ErrRateLimited)
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, 6, calls)
	assert.Len(t, timer.delays, 5)
	assert.Equal(t, 16*time.Second, timer.delays[4])
}

func TestExecutor_NonRateLimitErrorIsNotRetried(t *testing.T) {
	e, timer := newTestExecutor(5)
	boom := &statusErr{code: 500}

	calls := 0
	err := e.Do(context.Background(), "test", func(ctx context.Context) error {
		calls++
		return boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, timer.delays)
}

func TestExecutor_FreshCounterPerCall(t *testing.T) {
	e, timer := newTestExecutor(2)

	for i := 0; i < 2; i++ {
		calls := 0
		err := e.Do(context.Background(), "test", func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return ErrRateLimited
			}
			return nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, []time.Duration{time.Second, time.Second}, timer.delays)
}

func TestExecutor_ContextCancelled(t *testing.T) {
	e := NewExecutor(Config{MaxRetries: 5, BaseDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	err := e.Do(ctx, "test", func(ctx context.Context) error {
		cancel()
		return ErrRateLimited
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrRateLimited, true},
		{"wrapped sentinel", fmt.Errorf("fetch: %w", ErrRateLimited), true},
		{"typed 429", &statusErr{code: 429}, true},
		{"wrapped typed 429", fmt.Errorf("fetch: %w", &statusErr{code: 429}), true},
		{"typed 503", &statusErr{code: 503}, false},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}
