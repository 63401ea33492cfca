package dominion

import (
	"context"
	"time"

	"github.com/xraph/dominion/id"
)

// Ledger defines the persistence contract for dominance coordination. It is
// the only channel contending nodes share; implementations must provide an
// atomic conditional upsert and enforce ServerID uniqueness.
//
// No operation imposes its own timeout. A hung backend call blocks until the
// caller's context cancels it. Implementations live under ledger/.
type Ledger interface {
	// Migrate prepares backend state, including the unique constraint on
	// ServerID. Idempotent.
	Migrate(ctx context.Context) error

	// Leader returns the record with the greatest LastPing, or nil when
	// the Ledger holds no records.
	Leader(ctx context.Context) (*Record, error)

	// Claim upserts the record keyed by serverID: LastPing is always set
	// to at, Created only when the record is first inserted. Concurrent
	// claims racing a first insert of the same key are benign: the loser
	// observes (false, nil), never a corrupted write.
	Claim(ctx context.Context, serverID id.ServerID, at time.Time) (bool, error)

	// PurgeOthers deletes every record whose ServerID differs from the
	// given one, returning the number removed.
	PurgeOthers(ctx context.Context, serverID id.ServerID) (int64, error)

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
