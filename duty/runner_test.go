package duty_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/backoff"
	"github.com/xraph/dominion/duty"
	"github.com/xraph/dominion/id"
	"github.com/xraph/dominion/ledger/memory"
)

// dutySpy counts duty invocations with thread safety.
type dutySpy struct {
	mu    sync.Mutex
	count int
	err   error
}

func (d *dutySpy) Fn() duty.Func {
	return func(_ context.Context) error {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.count++
		return d.err
	}
}

func (d *dutySpy) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// faultyLedger serves reads from a single in-memory record and fails them
// on demand, counting every attempt.
type faultyLedger struct {
	mu          sync.Mutex
	leaderCalls int
	leaderErr   error
	record      *dominion.Record
}

var _ dominion.Ledger = (*faultyLedger)(nil)

func (f *faultyLedger) Migrate(context.Context) error { return nil }
func (f *faultyLedger) Ping(context.Context) error    { return nil }
func (f *faultyLedger) Close() error                  { return nil }

func (f *faultyLedger) Leader(context.Context) (*dominion.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderCalls++
	if f.leaderErr != nil {
		return nil, f.leaderErr
	}
	if f.record == nil {
		return nil, nil
	}
	out := *f.record
	return &out, nil
}

func (f *faultyLedger) Claim(_ context.Context, serverID id.ServerID, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record = &dominion.Record{ServerID: serverID, LastPing: at, Created: at}
	return true, nil
}

func (f *faultyLedger) PurgeOthers(context.Context, id.ServerID) (int64, error) { return 0, nil }

func (f *faultyLedger) LeaderCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderCalls
}

func (f *faultyLedger) setLeaderErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderErr = err
}

// newTestDominator builds an initialized Dominator on the given ledger with
// auto-purge off so tests control the record set.
func newTestDominator(t *testing.T, ledger dominion.Ledger) *dominion.Dominator {
	t.Helper()

	dom, err := dominion.New(
		dominion.WithLedger(ledger),
		dominion.WithAutoPurge(false),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if initErr := dom.Initialize(context.Background()); initErr != nil {
		t.Fatalf("Initialize: %v", initErr)
	}
	return dom
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRunner_RunsDutyWhileDominant(t *testing.T) {
	dom := newTestDominator(t, memory.New())
	spy := &dutySpy{}

	runner, err := duty.NewRunner(dom, spy.Fn(), duty.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if startErr := runner.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	// Wait for at least two runs: the lone node claims and keeps firing.
	deadline := time.After(3 * time.Second)
	for spy.Count() < 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the duty to run")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if stopErr := runner.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}
}

func TestRunner_SkipsDutyWhenNotDominant(t *testing.T) {
	ledger := memory.New()

	// Another node currently leads with a ping fresh enough to hold.
	other := id.NewServerID()
	if ok, err := ledger.Claim(context.Background(), other, time.Now().UTC().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("seed other leader: ok=%v err=%v", ok, err)
	}

	dom := newTestDominator(t, ledger)
	spy := &dutySpy{}

	runner, err := duty.NewRunner(dom, spy.Fn(), duty.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if startErr := runner.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	// Wait a bit — the duty must not run while another node leads.
	time.Sleep(300 * time.Millisecond)

	if stopErr := runner.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}

	if spy.Count() != 0 {
		t.Errorf("expected 0 duty runs on a non-dominant node, got %d", spy.Count())
	}
}

func TestRunner_TransitionCallbacks(t *testing.T) {
	ledger := memory.New()
	dom := newTestDominator(t, ledger)
	spy := &dutySpy{}

	acquired := make(chan struct{}, 1)
	lost := make(chan struct{}, 1)

	runner, err := duty.NewRunner(dom, spy.Fn(),
		duty.WithInterval(10*time.Millisecond),
		duty.WithOnAcquired(func(context.Context) {
			select {
			case acquired <- struct{}{}:
			default:
			}
		}),
		duty.WithOnLost(func(context.Context) {
			select {
			case lost <- struct{}{}:
			default:
			}
		}),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if startErr := runner.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	select {
	case <-acquired:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnAcquired")
	}

	// A rival stamps a fresher ping, so the next poll observes the loss.
	rival := id.NewServerID()
	if ok, claimErr := ledger.Claim(context.Background(), rival, time.Now().UTC().Add(time.Minute)); claimErr != nil || !ok {
		t.Fatalf("rival claim: ok=%v err=%v", ok, claimErr)
	}

	select {
	case <-lost:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for OnLost")
	}

	if stopErr := runner.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}
}

func TestRunner_ScheduleGatesFiring(t *testing.T) {
	dom := newTestDominator(t, memory.New())
	spy := &dutySpy{}

	// Far-future boundary: polls keep dominance fresh but the duty never
	// becomes due.
	runner, err := duty.NewRunner(dom, spy.Fn(),
		duty.WithInterval(10*time.Millisecond),
		duty.WithSchedule("@every 1h"),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if startErr := runner.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	time.Sleep(300 * time.Millisecond)

	if stopErr := runner.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}

	if spy.Count() != 0 {
		t.Errorf("expected 0 duty runs before the schedule boundary, got %d", spy.Count())
	}

	// The node still claimed dominance while holding fire.
	leader, leaderErr := dom.Leader(context.Background())
	if leaderErr != nil {
		t.Fatalf("Leader: %v", leaderErr)
	}
	if leader == nil || leader.ServerID != dom.ServerID() {
		t.Errorf("leader = %v, want this node despite the gated duty", leader)
	}
}

func TestRunner_FiresOnScheduleBoundary(t *testing.T) {
	dom := newTestDominator(t, memory.New())
	spy := &dutySpy{}

	runner, err := duty.NewRunner(dom, spy.Fn(),
		duty.WithInterval(10*time.Millisecond),
		duty.WithSchedule("@every 50ms"),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if startErr := runner.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	deadline := time.After(3 * time.Second)
	for spy.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the scheduled duty to fire")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if stopErr := runner.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}
}

func TestRunner_DutyErrorDoesNotStopLoop(t *testing.T) {
	dom := newTestDominator(t, memory.New())
	spy := &dutySpy{err: errors.New("duty failed")}

	runner, err := duty.NewRunner(dom, spy.Fn(), duty.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if startErr := runner.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	// The loop keeps invoking the duty even though every run errors.
	deadline := time.After(3 * time.Second)
	for spy.Count() < 3 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for repeated duty runs")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if stopErr := runner.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}
}

func TestRunner_BackoffSpacesFailingPolls(t *testing.T) {
	ledger := &faultyLedger{}
	dom := newTestDominator(t, ledger)
	ledger.setLeaderErr(errors.New("ledger down"))

	spy := &dutySpy{}
	runner, err := duty.NewRunner(dom, spy.Fn(),
		duty.WithInterval(5*time.Millisecond),
		duty.WithBackoff(backoff.NewConstant(60*time.Millisecond)),
	)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if startErr := runner.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	time.Sleep(300 * time.Millisecond)
	failing := ledger.LeaderCalls()

	// Without backoff a 5ms interval would poll ~60 times in 300ms; the
	// 60ms spacing keeps it to a handful.
	if failing > 10 {
		t.Errorf("expected backoff to space failing polls, got %d calls in 300ms", failing)
	}

	// Once the ledger heals, polling resumes and the duty runs.
	ledger.setLeaderErr(nil)

	deadline := time.After(3 * time.Second)
	for spy.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the duty after ledger recovery")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if stopErr := runner.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}
}

func TestRunner_StopHaltsDuty(t *testing.T) {
	dom := newTestDominator(t, memory.New())
	spy := &dutySpy{}

	runner, err := duty.NewRunner(dom, spy.Fn(), duty.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if startErr := runner.Start(context.Background()); startErr != nil {
		t.Fatalf("Start: %v", startErr)
	}

	deadline := time.After(3 * time.Second)
	for spy.Count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the duty to run")
		default:
			time.Sleep(20 * time.Millisecond)
		}
	}

	if stopErr := runner.Stop(context.Background()); stopErr != nil {
		t.Fatalf("Stop: %v", stopErr)
	}

	after := spy.Count()
	time.Sleep(100 * time.Millisecond)
	if got := spy.Count(); got != after {
		t.Errorf("duty ran after Stop: %d -> %d", after, got)
	}
}

func TestNewRunner_BadSchedule(t *testing.T) {
	dom := newTestDominator(t, memory.New())

	_, err := duty.NewRunner(dom, func(context.Context) error { return nil },
		duty.WithSchedule("not-a-cron"))
	if err == nil {
		t.Fatal("expected error for invalid schedule expression")
	}
}

func TestParseSchedule(t *testing.T) {
	// Descriptor format.
	sched, err := duty.ParseSchedule("@every 30s")
	if err != nil {
		t.Fatalf("ParseSchedule(@every 30s): %v", err)
	}
	now := time.Now().UTC()
	next := sched.Next(now)
	if !next.After(now) {
		t.Errorf("Next(%v) = %v, expected future time", now, next)
	}

	// Standard 5-field expression.
	sched2, err := duty.ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatalf("ParseSchedule(*/5 * * * *): %v", err)
	}
	next2 := sched2.Next(now)
	if !next2.After(now) {
		t.Errorf("Next(%v) = %v, expected future time", now, next2)
	}

	// Invalid expression.
	_, err = duty.ParseSchedule("not-a-cron")
	if err == nil {
		t.Error("expected error for invalid cron expression")
	}
}
