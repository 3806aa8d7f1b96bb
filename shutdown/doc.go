// Package shutdown stops a crawler process cleanly.
//
// A Coordinator runs registered steps in phases when SIGTERM or SIGINT
// arrives (or Shutdown is called). Lower phases run first; steps in the
// same phase run concurrently. The crawler uses three phases:
//
//   - PhaseOperations (10): the Supervisor cancels the dispatcher and any
//     background operation and waits for them to return
//   - PhaseStore (30): the store connection is closed
//   - PhaseTelemetry (40): spans and events are flushed
//
// A Supervisor is structured concurrency for a process: every long-running
// operation is started with Go, and stopping the Supervisor cancels all of
// them and joins them. An operation returning a cancellation error is
// treated as a clean exit.
//
// # Usage
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	sup := shutdown.NewSupervisor(context.Background(), logger)
//	coord.RegisterWithPhase("operations", sup, shutdown.PhaseOperations)
//	coord.RegisterFuncWithPhase("store", func(context.Context) error {
//	    return mgr.Close()
//	}, shutdown.PhaseStore)
//	coord.HandleSignals()
//
//	sup.Go("dispatcher", runner.Run)
//	if err := sup.Wait(); err != nil {
//	    // an operation failed
//	}
//	coord.ShutdownWithTimeout(0)
package shutdown
