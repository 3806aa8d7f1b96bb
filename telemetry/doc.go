// Package telemetry traces task dispatch with OpenTelemetry and exports
// dispatch events.
//
// InitProvider wires an OTLP exporter (gRPC or HTTP) into the global tracer
// provider. Without it, GetTracer returns a no-op tracer, so tracing calls
// are always safe.
//
// Trace context can travel with a task through the queue: InjectTask stores
// the current span context in the task's "_trace" field and ExtractTask
// restores it on the worker that pops the task.
//
// The event Exporter is a lighter channel for dispatch events (task
// finished, task dropped) written as JSON lines to a file or POSTed in
// batches to an HTTP endpoint.
package telemetry
