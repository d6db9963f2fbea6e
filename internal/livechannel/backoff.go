package livechannel

import (
	"fmt"
	"strings"
	"time"
)

// Default retry policy.
const (
	// DefaultBaseDelay is the delay after the first failed attempt.
	DefaultBaseDelay = 1500 * time.Millisecond

	// DefaultMaxDelay caps any single retry delay.
	DefaultMaxDelay = 10 * time.Second

	// DefaultMaxAttempts is the number of consecutive connect attempts per
	// session before giving up.
	DefaultMaxAttempts = 3
)

// Backoff is a linear, capped retry policy.
type Backoff struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the default retry policy.
func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Delay returns the wait after the given consecutive failure (1-based):
// min(BaseDelay × failure, MaxDelay). The sequence is non-decreasing.
func (b Backoff) Delay(failure int) time.Duration {
	if failure < 1 {
		failure = 1
	}
	if b.BaseDelay <= 0 {
		return 0
	}
	// Guard the multiplication against overflow for absurd failure counts.
	if time.Duration(failure) > b.MaxDelay/b.BaseDelay {
		return b.MaxDelay
	}
	d := b.BaseDelay * time.Duration(failure)
	if d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Validate checks the policy is usable.
func (b Backoff) Validate() error {
	var errs []string
	if b.BaseDelay <= 0 {
		errs = append(errs, "base delay must be positive")
	}
	if b.MaxDelay < b.BaseDelay {
		errs = append(errs, "max delay must be at least the base delay")
	}
	if b.MaxAttempts < 1 {
		errs = append(errs, "max attempts must be at least 1")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: backoff: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}
