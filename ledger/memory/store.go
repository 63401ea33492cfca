// Package memory provides a fully in-memory Ledger. Safe for concurrent
// access. Intended for unit testing and single-process development; the
// mutex serializes claims, so the first-insert conflict of distributed
// backends can never occur here.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

var _ dominion.Ledger = (*Store)(nil)

// Store is an in-memory implementation of dominion.Ledger.
type Store struct {
	mu      sync.RWMutex
	records map[string]*dominion.Record
}

// New returns a new empty Store.
func New() *Store {
	return &Store{records: make(map[string]*dominion.Record)}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

// Leader returns a copy of the record with the greatest LastPing, or nil
// when the store is empty.
func (m *Store) Leader(_ context.Context) (*dominion.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var top *dominion.Record
	for _, rec := range m.records {
		if top == nil || rec.LastPing.After(top.LastPing) {
			top = rec
		}
	}
	if top == nil {
		return nil, nil
	}
	cp := *top
	return &cp, nil
}

// Claim upserts the record keyed by serverID. The mutex makes the upsert
// atomic, so Claim never reports a conflict.
func (m *Store) Claim(_ context.Context, serverID id.ServerID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := serverID.String()
	if rec, ok := m.records[key]; ok {
		rec.LastPing = at
		return true, nil
	}
	m.records[key] = &dominion.Record{
		ServerID: serverID,
		LastPing: at,
		Created:  at,
	}
	return true, nil
}

// PurgeOthers deletes every record except the one keyed by serverID.
func (m *Store) PurgeOthers(_ context.Context, serverID id.ServerID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	own := serverID.String()
	var removed int64
	for key := range m.records {
		if key != own {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}
