// Package ratelimit tracks server-side rate limiting and gates requests.
// It honors 429 responses (Retry-After) and the X-RateLimit-Remaining and
// X-RateLimit-Reset headers so the client stops sending while the server is
// refusing work.
package ratelimit

import (
	"time"
)

// Storage keys for rate limit state. Backed by Redis, the state is shared by
// every client of the origin.
const (
	KeyRemaining     = "ratelimit:remaining"
	KeyCooldownUntil = "ratelimit:cooldown_until"
	KeyLastUpdate    = "ratelimit:last_update"
)

// Response headers read by the tracker.
const (
	HeaderRetryAfter = "Retry-After"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
)

// DefaultCooldown applies to a 429 without a usable Retry-After.
const DefaultCooldown = 5 * time.Second

// ThresholdWarning throttles requests when remaining quota falls below it.
const ThresholdWarning = 5

// State is the last observed rate limit state.
type State struct {
	// Remaining is the request quota left, or -1 when unknown.
	Remaining int `json:"remaining"`

	// CooldownUntil is when requests may resume. Zero means no cooldown.
	CooldownUntil time.Time `json:"cooldown_until"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// CoolingDown reports whether requests must wait at now.
func (s *State) CoolingDown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// TimeUntilReset returns the remaining cooldown at now.
// Returns 0 if the cooldown has passed.
func (s *State) TimeUntilReset(now time.Time) time.Duration {
	d := s.CooldownUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// NeedsThrottling reports whether the remaining quota is known and low.
func (s *State) NeedsThrottling() bool {
	return s.Remaining >= 0 && s.Remaining < ThresholdWarning
}

// IsStale returns true if the state is older than maxAge at now.
func (s *State) IsStale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.LastUpdate) > maxAge
}
