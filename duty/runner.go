package duty

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/backoff"
)

// Func is the duty callback. It runs only on the dominant node.
type Func func(ctx context.Context) error

// DefaultInterval is how often the Runner polls for dominance when no
// interval is configured.
const DefaultInterval = 15 * time.Second

// Option configures a Runner.
type Option func(*Runner)

// WithInterval sets how often the runner polls for dominance.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// WithSchedule gates duty firing to a cron schedule. The poll loop still
// runs on the interval so the node's dominance stays fresh between fires.
func WithSchedule(expr string) Option {
	return func(r *Runner) { r.scheduleExpr = expr }
}

// WithBackoff spaces out polling after consecutive failures.
func WithBackoff(s backoff.Strategy) Option {
	return func(r *Runner) { r.backoff = s }
}

// WithOnAcquired registers a callback fired when this node gains dominance.
func WithOnAcquired(fn func(ctx context.Context)) Option {
	return func(r *Runner) { r.onAcquired = fn }
}

// WithOnLost registers a callback fired when this node loses dominance.
func WithOnLost(fn func(ctx context.Context)) Option {
	return func(r *Runner) { r.onLost = fn }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// dutyParser supports standard 5-field cron and descriptors like "@every 30s".
var dutyParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return dutyParser.Parse(expr)
}

// Runner polls for dominance on a tick loop and runs the duty callback
// while this node is dominant.
type Runner struct {
	dom    *dominion.Dominator
	duty   Func
	logger *slog.Logger

	interval     time.Duration
	scheduleExpr string
	schedule     cronlib.Schedule
	backoff      backoff.Strategy

	onAcquired func(ctx context.Context)
	onLost     func(ctx context.Context)

	// State below is owned by the run goroutine.
	dominant bool
	failures int
	next     time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a Runner polling dom and invoking fn while dominant.
func NewRunner(dom *dominion.Dominator, fn Func, opts ...Option) (*Runner, error) {
	r := &Runner{
		dom:      dom,
		duty:     fn,
		logger:   slog.Default(),
		interval: DefaultInterval,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.scheduleExpr != "" {
		sched, err := ParseSchedule(r.scheduleExpr)
		if err != nil {
			return nil, fmt.Errorf("duty: parse schedule %q: %w", r.scheduleExpr, err)
		}
		r.schedule = sched
	}
	return r, nil
}

// Start launches the poll goroutine.
func (r *Runner) Start(_ context.Context) error {
	if r.schedule != nil {
		r.next = r.schedule.Next(time.Now().UTC())
	}
	r.wg.Add(1)
	go r.run()
	r.logger.Info("duty runner started",
		slog.String("server_id", r.dom.ServerID().String()),
		slog.Duration("interval", r.interval),
	)
	return nil
}

// Stop signals the runner to stop and waits for the poll goroutine to finish.
func (r *Runner) Stop(_ context.Context) error {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("duty runner stopped")
	return nil
}

// run fires on each tick interval and polls for dominance.
func (r *Runner) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Poll once immediately so a lone node claims without waiting a tick.
	r.poll()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.poll()
		}
	}
}

func (r *Runner) poll() {
	ctx := context.Background()

	dominant, err := r.dom.IsDominant(ctx)
	if err != nil {
		r.failures++
		r.logger.Warn("dominance poll error",
			slog.Int("consecutive_failures", r.failures),
			slog.String("error", err.Error()),
		)
		if r.backoff != nil {
			select {
			case <-r.stopCh:
			case <-time.After(r.backoff.Delay(r.failures)):
			}
		}
		return
	}
	r.failures = 0

	r.transition(ctx, dominant)
	if !dominant {
		return
	}
	if !r.due(time.Now().UTC()) {
		return
	}

	if dutyErr := r.duty(ctx); dutyErr != nil {
		r.logger.Error("duty run error", slog.String("error", dutyErr.Error()))
	}
}

// transition fires the edge callbacks when dominance changes between polls.
func (r *Runner) transition(ctx context.Context, dominant bool) {
	if dominant == r.dominant {
		return
	}
	r.dominant = dominant

	if dominant {
		r.logger.Info("dominance acquired", slog.String("server_id", r.dom.ServerID().String()))
		if r.onAcquired != nil {
			r.onAcquired(ctx)
		}
		return
	}
	r.logger.Info("dominance lost", slog.String("server_id", r.dom.ServerID().String()))
	if r.onLost != nil {
		r.onLost(ctx)
	}
}

// due reports whether the duty should fire now and advances the schedule.
// Without a schedule every dominant poll is due.
func (r *Runner) due(now time.Time) bool {
	if r.schedule == nil {
		return true
	}
	if now.Before(r.next) {
		return false
	}
	r.next = r.schedule.Next(now)
	return true
}
