package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/heathcliff26/buildhook/pkg/config"
)

// Policy encapsulates retry/backoff settings for transient failures.
type Policy struct {
	Mode       config.RetryBackoffMode
	Initial    time.Duration
	Max        time.Duration
	MaxRetries int // retries after the first attempt
}

// DefaultPolicy returns an exponential policy, 100ms initial, 2s cap, 3 retries.
func DefaultPolicy() Policy {
	return Policy{
		Mode:       config.RetryBackoffExponential,
		Initial:    config.DEFAULT_RETRY_INITIAL,
		Max:        config.DEFAULT_RETRY_MAX,
		MaxRetries: config.DEFAULT_RETRY_ATTEMPTS,
	}
}

// Build a policy from config, zero or invalid values fall back to the defaults
func NewPolicy(cfg config.RetryConfig) Policy {
	p := DefaultPolicy()
	if cfg.MaxRetries >= 0 {
		p.MaxRetries = cfg.MaxRetries
	}
	if cfg.Initial.Duration > 0 {
		p.Initial = cfg.Initial.Duration
	}
	if cfg.Max.Duration > 0 {
		p.Max = cfg.Max.Duration
	}
	switch cfg.Mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = cfg.Mode
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// Delay returns the backoff for the given retry (1-based: first retry => 1).
func (p Policy) Delay(retry int) time.Duration {
	if retry <= 0 {
		return 0
	}
	var d time.Duration
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		d = p.Initial * (1 << (retry - 1))
	default:
		d = time.Duration(retry) * p.Initial
	}
	if d > p.Max || d <= 0 {
		return p.Max
	}
	return d
}

// Do runs fn until it succeeds, retryable returns false or the retries are used up.
// Returns the last error of fn.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted after %d attempts: %w", attempt, err)
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}
