package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDo_Success(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialBackoff: 10 * time.Millisecond}

	called := 0
	err := Do(context.Background(), cfg, func() error {
		called++
		return nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, called)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Millisecond}

	called := 0
	err := Do(context.Background(), cfg, func() error {
		called++
		if called < 3 {
			return unix.ETXTBSY
		}
		return nil
	}, func(err error) bool {
		return errors.Is(err, unix.ETXTBSY)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, called)
}

func TestDo_ExhaustedRetries(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialBackoff: time.Millisecond}

	called := 0
	err := Do(context.Background(), cfg, func() error {
		called++
		return unix.EAGAIN
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, called)
	assert.ErrorIs(t, err, unix.EAGAIN)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestDo_NonRetryableError(t *testing.T) {
	cfg := Config{MaxRetries: 5, InitialBackoff: time.Millisecond}

	called := 0
	err := Do(context.Background(), cfg, func() error {
		called++
		return unix.ENOENT
	}, func(err error) bool {
		return errors.Is(err, unix.ETXTBSY)
	})

	assert.Equal(t, unix.ENOENT, err)
	assert.Equal(t, 1, called)
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 3, InitialBackoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())

	called := 0
	err := Do(ctx, cfg, func() error {
		called++
		cancel()
		return unix.EAGAIN
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, called)
}

func TestBackoff(t *testing.T) {
	cfg := Config{MaxRetries: 10, InitialBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
		{9, 50 * time.Millisecond},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(cfg, tt.attempt), "attempt %d", tt.attempt)
	}

	uncapped := Config{InitialBackoff: time.Millisecond}
	assert.Equal(t, 8*time.Millisecond, Backoff(uncapped, 4))
}
