package dominion

import (
	"log/slog"
	"time"

	"github.com/xraph/dominion/id"
)

// Option configures a Dominator.
type Option func(*Dominator) error

// WithLedger sets the shared record store used for coordination.
func WithLedger(l Ledger) Option {
	return func(d *Dominator) error {
		d.ledger = l
		return nil
	}
}

// WithLogger sets the structured logger for the Dominator.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dominator) error {
		d.logger = l
		return nil
	}
}

// WithServerID pins the node identity instead of generating one. Useful
// when identity must survive process restarts.
func WithServerID(sid id.ServerID) Option {
	return func(d *Dominator) error {
		d.serverID = sid
		return nil
	}
}

// WithMaxWait sets the heartbeat-staleness threshold past which another
// node may seize dominance.
func WithMaxWait(wait time.Duration) Option {
	return func(d *Dominator) error {
		d.config.MaxWait = wait
		return nil
	}
}

// WithGracePeriod enables the fast path that trusts local leadership for
// the given duration after a successful claim.
func WithGracePeriod(grace time.Duration) Option {
	return func(d *Dominator) error {
		d.config.GracePeriod = grace
		return nil
	}
}

// WithAutoPurge toggles the deferred purge scheduled after successful
// claims.
func WithAutoPurge(enabled bool) Option {
	return func(d *Dominator) error {
		d.config.AutoPurge = enabled
		return nil
	}
}

// WithPurgeDelay sets how long after a successful claim the scheduled purge
// runs.
func WithPurgeDelay(delay time.Duration) Option {
	return func(d *Dominator) error {
		d.config.PurgeDelay = delay
		return nil
	}
}

// WithSingleInstance declares that this deployment provably runs one node.
func WithSingleInstance() Option {
	return func(d *Dominator) error {
		d.config.SingleInstance = true
		return nil
	}
}

// WithoutSingleInstanceShortcut forces the full decision procedure even in
// single-instance mode.
func WithoutSingleInstanceShortcut() Option {
	return func(d *Dominator) error {
		d.config.NoSingleInstanceShortcut = true
		return nil
	}
}

// WithConfig replaces the entire configuration. Options applied after this
// one override individual fields.
func WithConfig(cfg Config) Option {
	return func(d *Dominator) error {
		d.config = cfg
		return nil
	}
}
