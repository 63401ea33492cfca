// Package redis implements dominion.Ledger on Redis. Each heartbeat record
// is a Hash, with a Sorted Set indexing records by last-ping time so the
// leader query is a single ZREVRANGE.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	l := redisledger.New(client)
//	if err := l.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

const keyPrefix = "dominion:"

// recordKey returns the Hash key for a node's record: dominion:record:{id}
func recordKey(serverID string) string { return keyPrefix + "record:" + serverID }

// pingIndexKey is the Sorted Set ordering records by last-ping time
// (score: UnixNano).
const pingIndexKey = keyPrefix + "records_by_ping"

var _ dominion.Ledger = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements dominion.Ledger backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed ledger. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless). Key uniqueness is structural:
// one Hash per ServerID.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Ledger
// ──────────────────────────────────────────────────

// Leader returns the record with the highest last-ping score, or nil when
// no records exist.
func (s *Store) Leader(ctx context.Context) (*dominion.Record, error) {
	top, err := s.client.ZRevRange(ctx, pingIndexKey, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("dominion/redis: leader zrevrange: %w", err)
	}
	if len(top) == 0 {
		return nil, nil
	}

	vals, err := s.client.HGetAll(ctx, recordKey(top[0])).Result()
	if err != nil {
		return nil, fmt.Errorf("dominion/redis: leader hgetall: %w", err)
	}
	if len(vals) == 0 {
		return nil, nil // index entry exists but record gone
	}
	return mapToRecord(vals)
}

// Claim upserts the record in one MULTI/EXEC: HSETNX seeds created on
// first insert only, HSET refreshes last_ping, ZADD keeps the index in
// step. The transaction makes the upsert atomic, so Claim never reports a
// conflict on this backend.
func (s *Store) Claim(ctx context.Context, serverID id.ServerID, at time.Time) (bool, error) {
	sID := serverID.String()
	key := recordKey(sID)

	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "created", at.Format(time.RFC3339Nano))
	pipe.HSet(ctx, key,
		"server_id", sID,
		"last_ping", at.Format(time.RFC3339Nano),
	)
	pipe.ZAdd(ctx, pingIndexKey, goredis.Z{Score: float64(at.UnixNano()), Member: sID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("dominion/redis: claim: %w", err)
	}
	return true, nil
}

// PurgeOthers deletes every record except serverID's own, returning how
// many were removed.
func (s *Store) PurgeOthers(ctx context.Context, serverID id.ServerID) (int64, error) {
	own := serverID.String()

	members, err := s.client.ZRange(ctx, pingIndexKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("dominion/redis: purge zrange: %w", err)
	}

	var dels []*goredis.IntCmd
	pipe := s.client.TxPipeline()
	for _, member := range members {
		if member == own {
			continue
		}
		dels = append(dels, pipe.Del(ctx, recordKey(member)))
		pipe.ZRem(ctx, pingIndexKey, member)
	}
	if len(dels) == 0 {
		return 0, nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("dominion/redis: purge others: %w", err)
	}

	// Del reports whether the key still existed, so concurrent purges
	// never double-count.
	var removed int64
	for _, del := range dels {
		removed += del.Val()
	}
	return removed, nil
}

// ── helpers ──

func mapToRecord(m map[string]string) (*dominion.Record, error) {
	sID, err := id.ParseServerID(m["server_id"])
	if err != nil {
		return nil, fmt.Errorf("dominion/redis: parse server id: %w", err)
	}

	lastPing, _ := time.Parse(time.RFC3339Nano, m["last_ping"]) //nolint:errcheck // best-effort parse from trusted Redis data
	created, _ := time.Parse(time.RFC3339Nano, m["created"])    //nolint:errcheck // best-effort parse from trusted Redis data

	return &dominion.Record{
		ServerID: sID,
		LastPing: lastPing,
		Created:  created,
	}, nil
}
