// Package dominion elects a single dominant node among horizontally scaled
// replicas of the same service. Exactly one node at a time is authorized to
// perform a shared periodic duty, such as draining a job queue, and authority
// moves automatically when the dominant node stops heartbeating.
//
// Coordination happens only through a shared record store, the Ledger. There
// is no inter-node messaging, no consensus protocol, and no fencing. Each node
// asserts liveness by upserting a heartbeat record keyed by its ServerID and
// decides dominance by comparing the freshest heartbeat against a staleness
// bound. Brief dual-leadership windows during failover are tolerated.
//
// # Quick Start
//
//	dom, err := dominion.New(
//	    dominion.WithLedger(ledger),
//	    dominion.WithMaxWait(time.Minute),
//	)
//	if err != nil { ... }
//	if err := dom.Initialize(ctx); err != nil { ... }
//
//	dominant, err := dom.IsDominant(ctx)
//	if dominant {
//	    // leader-only work
//	}
//
// # Architecture
//
// The root package owns the Ledger contract; backends under ledger/ implement
// it (memory, mongo, redis, postgres, bun, k8s). The duty package provides
// the host-side poll loop that gates a callback on dominance.
//
// Node identities use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// URL-safe identifiers.
package dominion
