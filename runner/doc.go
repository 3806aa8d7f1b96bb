// Package runner implements the worker dispatch loop.
//
// A Runner moves through four states:
//
//	polling ──(task routed)──▶ processing ──▶ polling
//	   │
//	   └──(queue empty)──▶ sleeping ──▶ polling
//
// Any state moves to shutting-down once the context is canceled, after which
// Run returns nil.
//
// While polling the runner opens a store scope, activates leader-only
// handlers if this worker holds the lease, and pops one task with the
// reliable-queue pattern. Tasks no handler accepts are acknowledged and
// dropped. Tasks a handler defers are re-queued; the runner keeps polling
// until every queued task has been passed over, then sleeps. A leader-only
// handler that is not active on this worker defers its tasks so they survive
// until the leader pops them.
//
// Processing runs the handler outside the scope, then pushes the children
// and acknowledges the original in a fresh scope. A handler error leaves the
// task in this worker's in-flight list; it is never retried. A handler cut
// short by shutdown leaves the task in flight too, without counting a failure.
//
// # Usage
//
//	r, err := runner.New(mgr, reg, runner.Config{Elector: el, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	return r.Run(ctx)
package runner
