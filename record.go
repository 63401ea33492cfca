package dominion

import (
	"time"

	"github.com/xraph/dominion/id"
)

// Record is one node's heartbeat entry in the Ledger. A record is created on
// the node's first successful claim, refreshed on every later claim by the
// same ServerID, and deleted when another claimant purges.
type Record struct {
	// ServerID uniquely identifies the record. The Ledger enforces
	// uniqueness; two records never share a ServerID.
	ServerID id.ServerID `json:"server_id"`

	// LastPing is refreshed on every successful claim. Per record, values
	// never decrease.
	LastPing time.Time `json:"last_ping"`

	// Created is set on first insert and never changes afterwards.
	Created time.Time `json:"created"`
}

// Stale reports whether the record's heartbeat is at least maxWait old at
// the given instant.
func (r *Record) Stale(maxWait time.Duration, at time.Time) bool {
	return at.Sub(r.LastPing) >= maxWait
}
