// Package observability provides opt-in OpenTelemetry decorators for a
// [dominion.Ledger].
//
// Both decorators wrap an existing ledger and pass every call through:
//
//	ledger := observability.WithMetrics(observability.WithTracing(store))
//	dom, err := dominion.New(dominion.WithLedger(ledger))
//
// [WithTracing] wraps each operation in a span named after it
// (dominion.ledger.claim, dominion.ledger.leader, ...) and records error
// status. [WithMetrics] records an operation duration histogram and a
// claim-outcome counter. Without a configured global TracerProvider or
// MeterProvider the OTel API falls back to noop implementations, so an
// undecorated deployment pays nothing.
//
// Close is passed through undecorated: it takes no context and runs once
// at shutdown.
package observability
