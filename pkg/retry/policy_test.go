package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/heathcliff26/buildhook/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestNewPolicy(t *testing.T) {
	assert := assert.New(t)

	p := NewPolicy(config.RetryConfig{})
	assert.Equal(config.RetryBackoffExponential, p.Mode)
	assert.Equal(0, p.MaxRetries, "Explicit zero retries are kept")

	p = NewPolicy(config.RetryConfig{
		Mode:       "bogus",
		Initial:    config.Duration{Duration: 5 * time.Second},
		Max:        config.Duration{Duration: time.Second},
		MaxRetries: -1,
	})
	assert.Equal(config.RetryBackoffExponential, p.Mode, "Unknown mode keeps the default")
	assert.Equal(time.Second, p.Initial, "Initial is capped at max")
	assert.Equal(config.DEFAULT_RETRY_ATTEMPTS, p.MaxRetries)
}

func TestDelay(t *testing.T) {
	tMatrix := map[config.RetryBackoffMode][]time.Duration{
		config.RetryBackoffFixed:       {0, 100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond},
		config.RetryBackoffLinear:      {0, 100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond},
		config.RetryBackoffExponential: {0, 100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond},
	}

	for mode, expected := range tMatrix {
		t.Run(string(mode), func(t *testing.T) {
			p := Policy{Mode: mode, Initial: 100 * time.Millisecond, Max: 250 * time.Millisecond}
			for retry, d := range expected {
				assert.Equal(t, d, p.Delay(retry), "retry %d", retry)
			}
		})
	}
}

func TestDo(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")
	retryable := func(err error) bool { return errors.Is(err, errTransient) }
	p := Policy{Mode: config.RetryBackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 2}

	t.Run("SucceedsAfterRetries", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), retryable, func(context.Context) error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})
	t.Run("GivesUp", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), retryable, func(context.Context) error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, calls)
	})
	t.Run("DoesNotRetryFatal", func(t *testing.T) {
		calls := 0
		err := p.Do(context.Background(), retryable, func(context.Context) error {
			calls++
			return errFatal
		})
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
	})
	t.Run("StopsOnCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		slow := Policy{Mode: config.RetryBackoffFixed, Initial: time.Hour, Max: time.Hour, MaxRetries: 1}
		err := slow.Do(ctx, retryable, func(context.Context) error { return errTransient })
		assert.ErrorIs(t, err, errTransient)
	})
}
