package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/dominion"
	"github.com/xraph/dominion/id"
)

// tracerName is the instrumentation scope name for dominion tracing.
const tracerName = "github.com/xraph/dominion"

// WithTracing wraps a ledger so that every operation runs inside an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and the wrapper becomes a pass-through with
// zero overhead.
//
// Span attributes include dominion.server_id on Claim and PurgeOthers,
// dominion.claim.won on Claim, and dominion.leader.server_id on Leader when
// a record exists. On error, the span status is set to codes.Error with the
// error message.
func WithTracing(next dominion.Ledger) dominion.Ledger {
	return WithTracer(next, otel.Tracer(tracerName))
}

// WithTracer wraps a ledger using the provided tracer. This variant allows
// injecting a specific TracerProvider for testing or when multiple providers
// are in use.
func WithTracer(next dominion.Ledger, tracer trace.Tracer) dominion.Ledger {
	return &tracingLedger{next: next, tracer: tracer}
}

type tracingLedger struct {
	next   dominion.Ledger
	tracer trace.Tracer
}

var _ dominion.Ledger = (*tracingLedger)(nil)

func (l *tracingLedger) Migrate(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "dominion.ledger.migrate",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	err := l.next.Migrate(ctx)
	recordOutcome(span, err)
	return err
}

func (l *tracingLedger) Leader(ctx context.Context) (*dominion.Record, error) {
	ctx, span := l.tracer.Start(ctx, "dominion.ledger.leader",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	rec, err := l.next.Leader(ctx)
	if err == nil && rec != nil {
		span.SetAttributes(attribute.String("dominion.leader.server_id", rec.ServerID.String()))
	}
	recordOutcome(span, err)
	return rec, err
}

func (l *tracingLedger) Claim(ctx context.Context, serverID id.ServerID, at time.Time) (bool, error) {
	ctx, span := l.tracer.Start(ctx, "dominion.ledger.claim",
		trace.WithAttributes(
			attribute.String("dominion.server_id", serverID.String()),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	won, err := l.next.Claim(ctx, serverID, at)
	span.SetAttributes(attribute.Bool("dominion.claim.won", won))
	recordOutcome(span, err)
	return won, err
}

func (l *tracingLedger) PurgeOthers(ctx context.Context, serverID id.ServerID) (int64, error) {
	ctx, span := l.tracer.Start(ctx, "dominion.ledger.purge_others",
		trace.WithAttributes(
			attribute.String("dominion.server_id", serverID.String()),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	removed, err := l.next.PurgeOthers(ctx, serverID)
	span.SetAttributes(attribute.Int64("dominion.purged", removed))
	recordOutcome(span, err)
	return removed, err
}

func (l *tracingLedger) Ping(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "dominion.ledger.ping",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	err := l.next.Ping(ctx)
	recordOutcome(span, err)
	return err
}

// Close takes no context, so there is nothing to trace.
func (l *tracingLedger) Close() error {
	return l.next.Close()
}

func recordOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
