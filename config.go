package dominion

import "time"

// Config holds tuning for dominance decisions.
//
// All staleness comparisons use wall-clock readings taken by the calling
// node. Bounded clock skew between nodes is an operating assumption: keep
// MaxWait comfortably larger than the worst expected skew plus the poll
// interval of the host scheduler.
type Config struct {
	// MaxWait is how stale the current leader's heartbeat may grow before
	// another node is allowed to seize dominance.
	MaxWait time.Duration

	// GracePeriod bounds Ledger read load for a confirmed leader: within
	// GracePeriod of its own last successful claim a node trusts its
	// leadership without consulting the Ledger. Zero disables the fast
	// path.
	GracePeriod time.Duration

	// AutoPurge schedules a deferred purge of other nodes' records after
	// every successful claim.
	AutoPurge bool

	// PurgeDelay is how long after a successful claim the scheduled purge
	// runs. The delay coalesces purge triggers from near-simultaneous
	// claims.
	PurgeDelay time.Duration

	// SingleInstance declares that this deployment provably runs one node,
	// letting IsDominant claim immediately instead of waiting out
	// staleness timers.
	SingleInstance bool

	// NoSingleInstanceShortcut forces the full decision procedure even
	// when SingleInstance is set.
	NoSingleInstanceShortcut bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWait:    5 * time.Minute,
		AutoPurge:  true,
		PurgeDelay: 10 * time.Second,
	}
}
