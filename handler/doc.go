// Package handler defines the task handlers a crawlkit worker dispatches to.
//
// A Task is a string-keyed mapping whose "task" field names the handler
// family it belongs to. A Handler decides with Accept whether it takes a
// task and processes it with Do, returning any follow-up tasks to enqueue.
//
// Handlers are registered once, at process start, into an ordered Registry.
// Routing picks the first active handler whose Accept returns true, in
// registration order. Handlers registered as leader-only stay inactive until
// the worker first confirms leadership; from then on they stay active.
//
// # Periodic Jobs
//
// Periodic is the self-rescheduling pattern: it accepts tasks of its kind
// whose scheduled time has passed, runs its action, and returns a single
// child task scheduled one interval later. Recurring jobs live entirely in
// the queue; there is no separate timer.
//
//	reg := handler.NewRegistry()
//	reg.RegisterLeaderOnly(&handler.Periodic{
//	    Kind:     "refresh",
//	    Field:    "scheduled_time",
//	    Interval: time.Hour,
//	    Action:   refresh,
//	})
package handler
