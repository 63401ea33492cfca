package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

// meterName is the instrumentation scope name for dominion metrics.
const meterName = "github.com/xraph/dominion"

// WithMetrics wraps a ledger so that every operation records metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and the wrapper becomes a pass-through.
//
// Instruments:
//   - dominion.ledger.duration (Float64Histogram): operation time in
//     seconds, with attributes: op, status ("ok" or "error")
//   - dominion.ledger.claims (Int64Counter): total claim attempts,
//     with attribute: outcome ("won", "conflict", or "error")
func WithMetrics(next dominion.Ledger) dominion.Ledger {
	return WithMeter(next, otel.Meter(meterName))
}

// WithMeter wraps a ledger using the provided meter. This variant allows
// injecting a specific MeterProvider for testing.
func WithMeter(next dominion.Ledger, meter metric.Meter) dominion.Ledger {
	// Create instruments once at wrap time. OTel instruments are safe for
	// concurrent use. On error, the API returns noop instruments so the
	// wrapper degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"dominion.ledger.duration",
		metric.WithDescription("Duration of ledger operations in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	claims, cErr := meter.Int64Counter(
		"dominion.ledger.claims",
		metric.WithDescription("Total number of claim attempts"),
		metric.WithUnit("{claim}"),
	)
	_ = cErr // noop fallback guaranteed by OTel API contract

	return &metricsLedger{next: next, duration: duration, claims: claims}
}

type metricsLedger struct {
	next     dominion.Ledger
	duration metric.Float64Histogram
	claims   metric.Int64Counter
}

var _ dominion.Ledger = (*metricsLedger)(nil)

func (l *metricsLedger) Migrate(ctx context.Context) error {
	start := time.Now()
	err := l.next.Migrate(ctx)
	l.record(ctx, "migrate", start, err)
	return err
}

func (l *metricsLedger) Leader(ctx context.Context) (*dominion.Record, error) {
	start := time.Now()
	rec, err := l.next.Leader(ctx)
	l.record(ctx, "leader", start, err)
	return rec, err
}

func (l *metricsLedger) Claim(ctx context.Context, serverID id.ServerID, at time.Time) (bool, error) {
	start := time.Now()
	won, err := l.next.Claim(ctx, serverID, at)
	l.record(ctx, "claim", start, err)

	outcome := "won"
	switch {
	case err != nil:
		outcome = "error"
	case !won:
		outcome = "conflict"
	}
	l.claims.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))

	return won, err
}

func (l *metricsLedger) PurgeOthers(ctx context.Context, serverID id.ServerID) (int64, error) {
	start := time.Now()
	removed, err := l.next.PurgeOthers(ctx, serverID)
	l.record(ctx, "purge_others", start, err)
	return removed, err
}

func (l *metricsLedger) Ping(ctx context.Context) error {
	start := time.Now()
	err := l.next.Ping(ctx)
	l.record(ctx, "ping", start, err)
	return err
}

func (l *metricsLedger) Close() error {
	return l.next.Close()
}

func (l *metricsLedger) record(ctx context.Context, op string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	))
}
