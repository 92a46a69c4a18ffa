package retry

import (
	"time"

	"github.com/acme/number-provisioning/internal/config"
	"github.com/acme/number-provisioning/internal/provider"
)

// Policy decides backoff delay and next-attempt eligibility for failed jobs.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy doubles the delay per attempt starting at two minutes:
// attempt 1 retries after 2m, attempt 2 after 4m, attempt 3 after 8m.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   time.Minute,
	MaxDelay:    time.Hour,
}

// FromConfig builds a policy, falling back to defaults for unset fields.
func FromConfig(cfg config.RetryConfig) Policy {
	p := DefaultPolicy
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.BaseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	return p
}

// Backoff returns the delay before the given attempt (1-based) may retry.
// The delay is base << attempt, capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// NextRetry returns the timestamp at which the given attempt becomes
// eligible again.
func (p Policy) NextRetry(now time.Time, attempt int) time.Time {
	return now.Add(p.Backoff(attempt))
}

// ShouldRetry reports whether a failed attempt may be rescheduled. Fatal
// provider errors (authentication, validation) fail fast regardless of the
// remaining attempt budget.
func (p Policy) ShouldRetry(attempt, maxAttempts int, err error) bool {
	if provider.Fatal(err) {
		return false
	}
	if maxAttempts <= 0 {
		maxAttempts = p.MaxAttempts
	}
	return attempt < maxAttempts
}
