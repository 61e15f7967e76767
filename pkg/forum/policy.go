package forum

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// BackoffPolicy controls how the client retries rate-limited and transient
// failures.
type BackoffPolicy struct {
	// BaseDelay is multiplied by the 1-based attempt number after a 429.
	BaseDelay time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	// MaxAttempts bounds the total number of attempts per call.
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
	// TransientDelay is the fixed wait after a connection-level failure.
	TransientDelay time.Duration `mapstructure:"transient_delay" yaml:"transient_delay"`
	// Jitter adds up to Jitter*delay of random extra wait. Zero disables it.
	Jitter float64 `mapstructure:"jitter" yaml:"jitter"`
}

// DefaultBackoffPolicy returns 10s base delay, 3 attempts, 5s transient
// delay and no jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:      10 * time.Second,
		MaxAttempts:    3,
		TransientDelay: 5 * time.Second,
	}
}

// Validate checks the policy values.
func (p BackoffPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("backoff max_attempts must be at least 1")
	}
	if p.BaseDelay < 0 || p.TransientDelay < 0 {
		return errors.New("backoff delays must not be negative")
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return errors.New("backoff jitter must be between 0 and 1")
	}
	return nil
}

// RateLimitDelay returns the wait after the given 1-based attempt was rate
// limited. retryAfter, when positive, raises the delay to at least that value.
func (p BackoffPolicy) RateLimitDelay(attempt int, retryAfter time.Duration, rng *rand.Rand) time.Duration {
	delay := p.BaseDelay * time.Duration(attempt)
	if p.Jitter > 0 && rng != nil && delay > 0 {
		delay += time.Duration(rng.Float64() * p.Jitter * float64(delay))
	}
	if retryAfter > delay {
		delay = retryAfter
	}
	return delay
}

// Sleeper waits for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to the Sleeper interface.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f(ctx, d).
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on a real timer and returns early with ctx.Err() when
// the context is cancelled.
var TimerSleeper Sleeper = SleeperFunc(sleepContext)

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
