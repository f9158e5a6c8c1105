package ratelimit

import (
	"fmt"
	"time"
)

// Policy describes one rate-limit rule: how many consumptions an identifier
// may make per window, and how long to block it after an overflow.
type Policy struct {
	// Limit is the maximum number of consumptions per window. Must be >= 1.
	Limit int `json:"limit"`

	// Window is the length of the counting window. Must be > 0.
	Window time.Duration `json:"window"`

	// Block is how long an identifier stays blocked after exceeding the
	// limit. Zero means half the window.
	Block time.Duration `json:"block,omitempty"`
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.Limit < 1 {
		return fmt.Errorf("limit must be at least 1, got %d", p.Limit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", p.Window)
	}
	if p.Block < 0 {
		return fmt.Errorf("block must not be negative, got %s", p.Block)
	}
	return nil
}

// blockDuration returns the effective penalty length for the policy.
func (p Policy) blockDuration() time.Duration {
	if p.Block > 0 {
		return p.Block
	}
	return p.Window / 2
}

// Decision is the outcome of a single consumption attempt. Denial is
// expressed here as a value; it is never an error.
type Decision struct {
	// Allowed reports whether the consumption fit inside the quota.
	Allowed bool `json:"allowed"`

	// Limit echoes the policy limit the decision was made against.
	Limit int `json:"limit"`

	// Remaining is how many consumptions are left in the current window.
	// Never negative.
	Remaining int `json:"remaining"`

	// WindowReset is when the current counting window ends.
	WindowReset time.Time `json:"window_reset"`

	// RetryAfter is how long the caller should wait before retrying.
	// Zero when the consumption was allowed.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	// Blocked reports whether a penalty block is in effect for the
	// identifier, either placed by this consumption or by an earlier one.
	Blocked bool `json:"blocked,omitempty"`
}

// RetryAfterSeconds returns RetryAfter in whole seconds, rounded up so a
// client that sleeps exactly this long never retries early. Zero when the
// decision was allowed.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	secs := int(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// entry is the persisted counter state for one identifier. Timestamps are
// Unix milliseconds so the stored form is portable across store backends.
type entry struct {
	Count       int   `json:"count"`
	WindowReset int64 `json:"window_reset_ms"`
	BlockUntil  int64 `json:"block_until_ms,omitempty"`
}
