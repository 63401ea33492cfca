// Package mongo provides the MongoDB Ledger. It is the contract's native
// shape: one collection of heartbeat documents with a unique server_id
// index, conditional upserts via $set/$setOnInsert, and duplicate-key
// detection translating the benign first-insert race into a typed result.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

// DefaultCollection is the collection holding dominance records.
const DefaultCollection = "dominion_records"

var _ dominion.Ledger = (*Store)(nil)

// Store is a MongoDB implementation of dominion.Ledger. The caller owns
// the client lifecycle; Store never disconnects it.
type Store struct {
	db         *mongod.Database
	collection string
	logger     *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(s *Store) {
		s.collection = name
	}
}

// New creates a MongoDB ledger on the given database. The caller owns the
// client lifecycle -- the Store will not disconnect it on Close().
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:         db,
		collection: DefaultCollection,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) col() *mongod.Collection {
	return s.db.Collection(s.collection)
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate creates the unique server_id index and the leader-query index.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.col().Indexes().CreateMany(ctx, []mongod.IndexModel{
		{
			Keys:    bson.D{{Key: "server_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		// Leader query: newest heartbeat first.
		{Keys: bson.D{{Key: "last_ping", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("dominion/mongo: migrate indexes: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

// Leader returns the record with the greatest last_ping, or nil when the
// collection is empty.
func (s *Store) Leader(ctx context.Context) (*dominion.Record, error) {
	findOpts := options.FindOne().SetSort(bson.D{{Key: "last_ping", Value: -1}})

	var m recordModel
	err := s.col().FindOne(ctx, bson.M{}, findOpts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dominion/mongo: leader: %w", err)
	}
	return fromRecordModel(&m)
}

// Claim upserts the heartbeat document keyed by serverID. last_ping is
// always set; created only when the document is first inserted. Two
// clients racing the first insert of one key both attempt the insert and
// the unique index rejects one with a duplicate-key error, reported here
// as (false, nil).
func (s *Store) Claim(ctx context.Context, serverID id.ServerID, at time.Time) (bool, error) {
	_, err := s.col().UpdateOne(ctx,
		bson.M{"server_id": serverID.String()},
		bson.M{
			"$set":         bson.M{"last_ping": at},
			"$setOnInsert": bson.M{"created": at},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("dominion/mongo: claim: %w", err)
	}
	return true, nil
}

// PurgeOthers deletes every record whose server_id differs from serverID.
func (s *Store) PurgeOthers(ctx context.Context, serverID id.ServerID) (int64, error) {
	res, err := s.col().DeleteMany(ctx, bson.M{
		"server_id": bson.M{"$ne": serverID.String()},
	})
	if err != nil {
		return 0, fmt.Errorf("dominion/mongo: purge others: %w", err)
	}
	return res.DeletedCount, nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// isDuplicateKey checks if a MongoDB error is a duplicate key violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}
