// Package duty runs a shared periodic callback on whichever node currently
// holds dominance.
//
// A [Runner] polls Dominator.IsDominant on an interval and invokes the duty
// callback only while the answer is true. Because every node runs its own
// Runner against the same ledger, the duty executes on exactly one node at a
// time and fails over automatically when the dominant node stops pinging.
//
// # Schedule
//
// By default the duty fires on every dominant poll. An optional cron
// schedule (standard 5-field expressions or descriptors like "@every 30s")
// gates firing to schedule boundaries while the poll keeps the node's
// dominance fresh in between:
//
//	runner, err := duty.NewRunner(dom, drainQueue,
//	    duty.WithInterval(15*time.Second),
//	    duty.WithSchedule("@every 5m"),
//	)
//
// # Transitions
//
// OnAcquired and OnLost callbacks fire when the node's dominance changes
// between polls, for hosts that warm caches or open resources only while
// dominant.
package duty
