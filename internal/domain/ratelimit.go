package domain

import "time"

// CounterState is what a counter store reports after one atomic hit.
type CounterState struct {
	Allowed     bool
	Count       int
	WindowStart time.Time
}

// RateDecision is the outcome of a fixed-window gate check.
type RateDecision struct {
	Allowed     bool
	Count       int
	Limit       int
	WindowStart time.Time
	RetryAfter  time.Duration
}

// RetryAfterSeconds is zero when allowed and at least one when denied.
func (d RateDecision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	return ceilSeconds(d.RetryAfter)
}

// Err returns a *RateLimitedError for denied decisions and nil otherwise.
func (d RateDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitedError{RetryAfter: d.RetryAfter}
}
