package bunledger

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ dominion.Ledger = (*Store)(nil)

// Store is a Bun ORM implementation of dominion.Ledger using PostgreSQL
// dialect. The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new Bun ledger. The caller owns the db lifecycle — the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	// Create migrations tracking table.
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dominion_migrations (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("dominion/bun: create migrations table: %w", err)
	}

	// Read embedded migration files.
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("dominion/bun: read migrations: %w", err)
	}

	// Sort by filename for deterministic order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		// Check if already applied.
		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM dominion_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("dominion/bun: check migration %s: %w", entry.Name(), err)
		}
		if applied {
			continue
		}

		// Read and execute migration.
		data, readErr := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if readErr != nil {
			return fmt.Errorf("dominion/bun: read migration %s: %w", entry.Name(), readErr)
		}

		_, execErr := s.db.ExecContext(ctx, string(data))
		if execErr != nil {
			return fmt.Errorf("dominion/bun: execute migration %s: %w", entry.Name(), execErr)
		}

		// Record migration.
		_, recErr := s.db.ExecContext(ctx,
			`INSERT INTO dominion_migrations (filename) VALUES (?)`,
			entry.Name(),
		)
		if recErr != nil {
			return fmt.Errorf("dominion/bun: record migration %s: %w", entry.Name(), recErr)
		}

		s.logger.Info("applied migration", "file", entry.Name())
	}

	return nil
}

// Leader returns the record with the most recent last_ping, or nil when the
// table is empty.
func (s *Store) Leader(ctx context.Context) (*dominion.Record, error) {
	m := new(recordModel)
	err := s.db.NewSelect().Model(m).
		Order("last_ping DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dominion/bun: leader: %w", err)
	}
	return fromRecordModel(m)
}

// Claim upserts the heartbeat record for serverID. A fresh insert stamps
// created; a refresh leaves it untouched. A unique-key conflict from a
// racing first insert reports (false, nil).
func (s *Store) Claim(ctx context.Context, serverID id.ServerID, at time.Time) (bool, error) {
	m := toRecordModel(&dominion.Record{
		ServerID: serverID,
		LastPing: at,
		Created:  at,
	})
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (server_id) DO UPDATE").
		Set("last_ping = EXCLUDED.last_ping").
		Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("dominion/bun: claim: %w", err)
	}
	return true, nil
}

// PurgeOthers deletes every record except the one owned by serverID.
func (s *Store) PurgeOthers(ctx context.Context, serverID id.ServerID) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("dominion_records").
		Where("server_id <> ?", serverID.String()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("dominion/bun: purge others: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
