// Package ledgertest exercises the dominion.Ledger contract. Every backend
// runs the same suite from its own tests, so contract drift between
// backends shows up as a test failure rather than a production surprise.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

// Factory returns an empty, migrated Ledger ready for one subtest. The
// factory owns cleanup; register it with t.Cleanup.
type Factory func(t *testing.T) dominion.Ledger

// Run exercises the full Ledger contract against backends produced by the
// factory. Each subtest receives a fresh Ledger.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("MigrateIdempotent", func(t *testing.T) { testMigrateIdempotent(t, factory(t)) })
	t.Run("Ping", func(t *testing.T) { testPing(t, factory(t)) })
	t.Run("LeaderEmpty", func(t *testing.T) { testLeaderEmpty(t, factory(t)) })
	t.Run("ClaimInsert", func(t *testing.T) { testClaimInsert(t, factory(t)) })
	t.Run("ClaimRefresh", func(t *testing.T) { testClaimRefresh(t, factory(t)) })
	t.Run("LeaderMaxByLastPing", func(t *testing.T) { testLeaderMaxByLastPing(t, factory(t)) })
	t.Run("PurgeOthersNeverSelf", func(t *testing.T) { testPurgeOthersNeverSelf(t, factory(t)) })
	t.Run("PurgeEmpty", func(t *testing.T) { testPurgeEmpty(t, factory(t)) })
	t.Run("ConcurrentDistinctClaims", func(t *testing.T) { testConcurrentDistinctClaims(t, factory(t)) })
	t.Run("ConcurrentSameKeyClaims", func(t *testing.T) { testConcurrentSameKeyClaims(t, factory(t)) })
}

// within fails unless got is inside tolerance of want. Backends store
// timestamps at varying precision (milliseconds for mongo, microseconds
// for postgres and k8s), so exact equality is not part of the contract.
func within(t *testing.T, name string, got, want time.Time, tolerance time.Duration) {
	t.Helper()
	diff := got.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Errorf("%s = %v, want within %v of %v", name, got, tolerance, want)
	}
}

func testMigrateIdempotent(t *testing.T, ledger dominion.Ledger) {
	ctx := context.Background()
	if err := ledger.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := ledger.Migrate(ctx); err != nil {
		t.Fatalf("third Migrate: %v", err)
	}
}

func testPing(t *testing.T, ledger dominion.Ledger) {
	if err := ledger.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testLeaderEmpty(t *testing.T, ledger dominion.Ledger) {
	leader, err := ledger.Leader(context.Background())
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if leader != nil {
		t.Errorf("leader on empty ledger = %+v, want nil", leader)
	}
}

func testClaimInsert(t *testing.T, ledger dominion.Ledger) {
	ctx := context.Background()
	sid := id.NewServerID()
	at := time.Now().UTC()

	ok, err := ledger.Claim(ctx, sid, at)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !ok {
		t.Fatal("expected the first claim to succeed")
	}

	leader, err := ledger.Leader(ctx)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if leader == nil {
		t.Fatal("expected a leader record after claiming")
	}
	if leader.ServerID.String() != sid.String() {
		t.Errorf("leader id = %s, want %s", leader.ServerID, sid)
	}
	within(t, "last ping", leader.LastPing, at, 2*time.Second)
	if !leader.Created.Equal(leader.LastPing) {
		t.Errorf("first insert: created = %v, last ping = %v, want equal", leader.Created, leader.LastPing)
	}
}

func testClaimRefresh(t *testing.T, ledger dominion.Ledger) {
	ctx := context.Background()
	sid := id.NewServerID()
	base := time.Now().UTC()

	if ok, err := ledger.Claim(ctx, sid, base); err != nil || !ok {
		t.Fatalf("first Claim: ok=%v err=%v", ok, err)
	}
	first, err := ledger.Leader(ctx)
	if err != nil || first == nil {
		t.Fatalf("Leader after first claim: rec=%v err=%v", first, err)
	}

	if ok, err := ledger.Claim(ctx, sid, base.Add(time.Second)); err != nil || !ok {
		t.Fatalf("refresh Claim: ok=%v err=%v", ok, err)
	}
	second, err := ledger.Leader(ctx)
	if err != nil || second == nil {
		t.Fatalf("Leader after refresh: rec=%v err=%v", second, err)
	}

	if !second.LastPing.After(first.LastPing) {
		t.Errorf("last ping did not advance: %v -> %v", first.LastPing, second.LastPing)
	}
	if !second.Created.Equal(first.Created) {
		t.Errorf("created changed on refresh: %v -> %v", first.Created, second.Created)
	}
}

func testLeaderMaxByLastPing(t *testing.T, ledger dominion.Ledger) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	ids := []id.ServerID{id.NewServerID(), id.NewServerID(), id.NewServerID()}
	for i, sid := range ids {
		at := base.Add(time.Duration(i) * 10 * time.Second)
		if ok, err := ledger.Claim(ctx, sid, at); err != nil || !ok {
			t.Fatalf("Claim %d: ok=%v err=%v", i, ok, err)
		}
	}

	leader, err := ledger.Leader(ctx)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if leader == nil {
		t.Fatal("expected a leader")
	}
	if leader.ServerID.String() != ids[2].String() {
		t.Errorf("leader = %s, want the freshest claimant %s", leader.ServerID, ids[2])
	}
}

func testPurgeOthersNeverSelf(t *testing.T, ledger dominion.Ledger) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	keeper := id.NewServerID()
	others := []id.ServerID{id.NewServerID(), id.NewServerID()}

	for i, sid := range others {
		if ok, err := ledger.Claim(ctx, sid, base.Add(time.Duration(i)*time.Second)); err != nil || !ok {
			t.Fatalf("Claim other %d: ok=%v err=%v", i, ok, err)
		}
	}
	// The keeper claims last so it is the current leader.
	if ok, err := ledger.Claim(ctx, keeper, base.Add(30*time.Second)); err != nil || !ok {
		t.Fatalf("Claim keeper: ok=%v err=%v", ok, err)
	}

	removed, err := ledger.PurgeOthers(ctx, keeper)
	if err != nil {
		t.Fatalf("PurgeOthers: %v", err)
	}
	if removed != int64(len(others)) {
		t.Errorf("removed = %d, want %d", removed, len(others))
	}

	leader, err := ledger.Leader(ctx)
	if err != nil {
		t.Fatalf("Leader after purge: %v", err)
	}
	if leader == nil || leader.ServerID.String() != keeper.String() {
		t.Errorf("leader after purge = %v, want the keeper %s", leader, keeper)
	}

	// Purging again removes nothing.
	removed, err = ledger.PurgeOthers(ctx, keeper)
	if err != nil {
		t.Fatalf("second PurgeOthers: %v", err)
	}
	if removed != 0 {
		t.Errorf("second purge removed = %d, want 0", removed)
	}
}

func testPurgeEmpty(t *testing.T, ledger dominion.Ledger) {
	removed, err := ledger.PurgeOthers(context.Background(), id.NewServerID())
	if err != nil {
		t.Fatalf("PurgeOthers: %v", err)
	}
	if removed != 0 {
		t.Errorf("removed = %d on empty ledger, want 0", removed)
	}
}

func testConcurrentDistinctClaims(t *testing.T, ledger dominion.Ledger) {
	const nodes = 8

	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Minute)

	ids := make([]id.ServerID, nodes)
	for i := range ids {
		ids[i] = id.NewServerID()
	}

	// Claims for distinct keys never conflict with each other.
	var g errgroup.Group
	for i := 0; i < nodes; i++ {
		g.Go(func() error {
			for round := 0; round < 5; round++ {
				at := base.Add(time.Duration(round)*time.Second + time.Duration(i)*time.Millisecond)
				ok, err := ledger.Claim(ctx, ids[i], at)
				if err != nil {
					return err
				}
				if !ok {
					t.Errorf("claim for distinct key %s reported conflict", ids[i])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent claims: %v", err)
	}

	// The freshest stamp belongs to the highest node index.
	leader, err := ledger.Leader(ctx)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if leader == nil {
		t.Fatal("expected a leader after concurrent claims")
	}
	if leader.ServerID.String() != ids[nodes-1].String() {
		t.Errorf("leader = %s, want %s", leader.ServerID, ids[nodes-1])
	}
}

func testConcurrentSameKeyClaims(t *testing.T, ledger dominion.Ledger) {
	const callers = 8

	ctx := context.Background()
	sid := id.NewServerID()
	at := time.Now().UTC()

	// Racing first inserts of one key must yield only success or the
	// benign conflict result, never an error, and at least one caller
	// must win.
	results := make([]bool, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			ok, err := ledger.Claim(ctx, sid, at.Add(time.Duration(i)*time.Millisecond))
			if err != nil {
				return err
			}
			results[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("racing claims returned an error: %v", err)
	}

	var wins int
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	if wins == 0 {
		t.Fatal("expected at least one racing claim to succeed")
	}

	leader, err := ledger.Leader(ctx)
	if err != nil {
		t.Fatalf("Leader: %v", err)
	}
	if leader == nil || leader.ServerID.String() != sid.String() {
		t.Errorf("leader = %v, want the single raced key %s", leader, sid)
	}
}
