package dominion

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/dominion/id"
)

// Dominator decides whether this node currently holds dominance. Construct
// one per process with New and share it by reference; all coordination with
// other nodes goes through the configured Ledger.
//
// The internal mutex protects memory, not semantics: redundant concurrent
// claims or purges from in-process callers are tolerated as harmless,
// idempotent overhead, never deduplicated.
type Dominator struct {
	config Config
	logger *slog.Logger
	ledger Ledger

	mu          sync.Mutex
	serverID    id.ServerID
	lastPing    time.Time
	initialized bool

	// clock is a test seam; production always runs time.Now().UTC().
	clock func() time.Time
}

// New creates a Dominator with the given options. A fresh ServerID is
// generated unless WithServerID pins one. Tunables are not validated;
// supplying coherent values is the caller's responsibility.
func New(opts ...Option) (*Dominator, error) {
	d := &Dominator{
		config:   DefaultConfig(),
		logger:   slog.Default(),
		serverID: id.NewServerID(),
		clock:    now,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ServerID returns this node's identity.
func (d *Dominator) ServerID() id.ServerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.serverID
}

// Config returns a copy of the configuration.
func (d *Dominator) Config() Config { return d.config }

// Initialize verifies Ledger connectivity and ensures the unique ServerID
// constraint exists. Idempotent: a second call is a no-op. Failures surface
// wrapped in ErrSetup and are not retried internally.
func (d *Dominator) Initialize(ctx context.Context) error {
	d.mu.Lock()
	if d.initialized {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if d.ledger == nil {
		return ErrNoLedger
	}
	if err := d.ledger.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrSetup, err)
	}
	if err := d.ledger.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: migrate: %w", ErrSetup, err)
	}

	d.mu.Lock()
	d.initialized = true
	sid := d.serverID
	d.mu.Unlock()

	d.logger.Info("dominion initialized", slog.String("server_id", sid.String()))
	return nil
}

// Leader returns the record with the greatest LastPing, or nil when the
// Ledger holds no records. Read failures propagate to the caller.
func (d *Dominator) Leader(ctx context.Context) (*Record, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	return d.ledger.Leader(ctx)
}

// Claim upserts this node's heartbeat record: LastPing is set to the
// current clock reading, Created only on first insert. A uniqueness
// conflict from a racing first insert is benign and reported as
// (false, nil); the next successful claim simply refreshes the heartbeat.
//
// On success, when AutoPurge is enabled, a purge of other nodes' records
// is scheduled after PurgeDelay. The scheduled purge is fire-and-forget
// and cannot be cancelled.
func (d *Dominator) Claim(ctx context.Context) (bool, error) {
	if err := d.ready(); err != nil {
		return false, err
	}

	d.mu.Lock()
	sid := d.serverID
	d.mu.Unlock()
	if sid.IsNil() {
		return false, ErrNoIdentity
	}

	at := d.clock()
	ok, err := d.ledger.Claim(ctx, sid, at)
	if err != nil {
		return false, err
	}
	if !ok {
		d.logger.Debug("claim lost first-insert race",
			slog.String("server_id", sid.String()))
		return false, nil
	}

	d.mu.Lock()
	if at.After(d.lastPing) {
		d.lastPing = at
	}
	d.mu.Unlock()

	if d.config.AutoPurge {
		d.schedulePurge()
	}
	return true, nil
}

// Purge deletes every record whose ServerID differs from this node's own,
// returning the number removed. It never removes the local record.
func (d *Dominator) Purge(ctx context.Context) (int64, error) {
	if err := d.ready(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	sid := d.serverID
	d.mu.Unlock()
	if sid.IsNil() {
		return 0, ErrNoIdentity
	}

	return d.ledger.PurgeOthers(ctx, sid)
}

// IsDominant reports whether this node currently holds dominance. The
// decision is re-evaluated on every call, never cached as durable:
//
//  1. In single-instance mode (unless the shortcut is disabled) it claims
//     immediately; there is no possible contention to wait out.
//  2. Within GracePeriod of this node's own last successful claim it
//     returns true without touching the Ledger.
//  3. Otherwise it reads the current leader: when none exists or the
//     record is its own, it claims; when the leader's heartbeat is at
//     least MaxWait old, the leader is presumed dead and it claims; else
//     it stays subordinate.
func (d *Dominator) IsDominant(ctx context.Context) (bool, error) {
	if err := d.ready(); err != nil {
		return false, err
	}

	if d.config.SingleInstance && !d.config.NoSingleInstanceShortcut {
		return d.Claim(ctx)
	}

	d.mu.Lock()
	sid := d.serverID
	lastPing := d.lastPing
	d.mu.Unlock()

	if d.config.GracePeriod > 0 && !lastPing.IsZero() &&
		d.clock().Before(lastPing.Add(d.config.GracePeriod)) {
		return true, nil
	}

	leader, err := d.ledger.Leader(ctx)
	if err != nil {
		return false, err
	}

	switch {
	case leader == nil, leader.ServerID == sid:
		return d.Claim(ctx)
	case leader.Stale(d.config.MaxWait, d.clock()):
		d.logger.Info("seizing dominance from stale leader",
			slog.String("server_id", sid.String()),
			slog.String("leader_id", leader.ServerID.String()),
			slog.Time("leader_last_ping", leader.LastPing))
		return d.Claim(ctx)
	default:
		return false, nil
	}
}

// Reset discards the local identity and cached heartbeat, generating a
// fresh ServerID when regenerate is true. Administrative use only: after
// Reset(false) the Dominator has no identity and can no longer claim until
// a new one is supplied. The old identity's record stays in the Ledger
// until the next leader purges it.
func (d *Dominator) Reset(regenerate bool) {
	d.mu.Lock()
	old := d.serverID
	d.serverID = id.Nil
	if regenerate {
		d.serverID = id.NewServerID()
	}
	d.lastPing = time.Time{}
	sid := d.serverID
	d.mu.Unlock()

	d.logger.Info("server identity reset",
		slog.String("old_server_id", old.String()),
		slog.String("server_id", sid.String()))
}

// schedulePurge arms a one-shot timer whose handle is discarded: deferred,
// fire-and-forget, non-cancellable. Near-simultaneous claim successes each
// schedule their own purge; the deletes are idempotent.
func (d *Dominator) schedulePurge() {
	delay := d.config.PurgeDelay
	d.logger.Debug("purge scheduled", slog.Duration("delay", delay))

	time.AfterFunc(delay, func() {
		removed, err := d.Purge(context.Background())
		if err != nil {
			d.logger.Warn("scheduled purge failed", slog.String("error", err.Error()))
			return
		}
		if removed > 0 {
			d.logger.Info("purged stale dominance records",
				slog.Int64("removed", removed))
		}
	})
}

func (d *Dominator) ready() error {
	if d.ledger == nil {
		return ErrNoLedger
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return ErrNotInitialized
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }
