// Package backoff provides delay strategies for spacing out work after
// consecutive failures, such as ledger polls that keep erroring. All
// strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the extra delay after a run of consecutive failures.
type Strategy interface {
	// Delay returns how long to wait after the nth consecutive failure
	// (1-indexed).
	Delay(failures int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of how many failures
// have accumulated.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay with each consecutive failure.
// Delay = min(Initial * 2^(failures-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(failures-1), capped at Max.
func (e *Exponential) Delay(failures int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(failures-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Initial * 2^(failures-1), Max)].
// Jitter keeps a fleet of nodes that failed together from hammering the
// ledger in lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Initial * 2^(failures-1), Max)].
func (e *ExponentialWithJitter) Delay(failures int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(failures-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the backoff used by duty.Runner when none is
// configured: ExponentialWithJitter with 1s initial and 30s max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 30*time.Second)
}
