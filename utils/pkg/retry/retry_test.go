package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCarbon_Retry_Do_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, attempts)
}

func TestCarbon_Retry_Do_RetriesRetryableErrors(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestCarbon_Retry_Do_StopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxAttempts: 3, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	fatal := errors.New("invalid request body")
	attempts := 0
	err := Do(context.Background(), cfg, func() error {
		attempts++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, attempts)
}

func TestCarbon_Retry_Do_WrapsAfterExhaustion(t *testing.T) {
	t.Parallel()

	cfg := Config{MaxAttempts: 2, BaseBackoff: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
	last := errors.New("rate limit exceeded")
	err := Do(context.Background(), cfg, func() error { return last })
	require.Error(t, err)
	require.ErrorIs(t, err, last)
}

func TestCarbon_Retry_Do_RespectsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxAttempts: 5, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("timeout")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, attempts)
}

type statusErr struct{ code int }

func (e *statusErr) Error() string   { return http.StatusText(e.code) }
func (e *statusErr) StatusCode() int { return e.code }

func TestCarbon_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"throttled message", errors.New("429: too many requests"), true},
		{"anthropic overloaded", errors.New("overloaded_error"), true},
		{"http 503", &statusErr{code: http.StatusServiceUnavailable}, true},
		{"http 429", &statusErr{code: http.StatusTooManyRequests}, true},
		{"http 400", &statusErr{code: http.StatusBadRequest}, false},
		{"plain failure", errors.New("schema table missing"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestCarbon_Retry_BackoffBoundedAndJittered(t *testing.T) {
	t.Parallel()

	cfg := Config{BaseBackoff: 100 * time.Millisecond, MaxBackoff: 400 * time.Millisecond}
	seen := make(map[time.Duration]struct{})
	for range 50 {
		d := backoff(cfg, 2)
		require.GreaterOrEqual(t, d, 200*time.Millisecond)
		require.LessOrEqual(t, d, 400*time.Millisecond)
		seen[d] = struct{}{}
	}
	require.Greater(t, len(seen), 3)
}
