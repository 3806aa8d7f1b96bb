package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TraceField is the task field carrying propagated trace context.
const TraceField = "_trace"

// Tracer wraps OpenTelemetry tracing with dispatch-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	worker string
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name, worker string) *Tracer {
	return NewTracerFrom(otel.GetTracerProvider(), name, worker)
}

// NewTracerFrom creates a tracer from the given provider.
func NewTracerFrom(tp trace.TracerProvider, name, worker string) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), worker: worker}
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Task Spans ---

// Task outcomes.
const (
	OutcomeProcessed  = "processed"
	OutcomeFailed     = "failed"
	OutcomeUnroutable = "unroutable"
	OutcomeDeferred   = "deferred"
	OutcomeCanceled   = "canceled"
)

// TaskSpanOptions describes a dispatched task.
type TaskSpanOptions struct {
	Handler  string
	Outcome  string
	Children int
}

// StartTaskSpan starts a span for one popped task.
func (t *Tracer) StartTaskSpan(ctx context.Context, kind string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "task."+kind, trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("task.kind", kind))
	if t.worker != "" {
		span.SetAttributes(attribute.String("worker.id", t.worker))
	}
	return ctx, span
}

// EndTaskSpan ends a task span with attributes.
func (t *Tracer) EndTaskSpan(span trace.Span, opts TaskSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("task.outcome", opts.Outcome),
		attribute.Int("task.children", opts.Children),
	}
	if opts.Handler != "" {
		attrs = append(attrs, attribute.String("task.handler", opts.Handler))
	}
	span.SetAttributes(attrs...)
	endSpan(span, err)
}

// --- Store Spans ---

// StartStoreSpan starts a span for a store operation such as "pop" or "push".
func (t *Tracer) StartStoreSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "store."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("store.op", op),
		attribute.String("store.key", key),
	)
	return ctx, span
}

// EndStoreSpan ends a store span.
func (t *Tracer) EndStoreSpan(span trace.Span, err error) {
	endSpan(span, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// InjectContext injects trace context into a carrier for cross-process propagation.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractContext extracts trace context from a carrier.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// InjectTask stores the trace context of ctx in task[TraceField]. Nothing is
// stored when ctx carries no span.
func InjectTask(ctx context.Context, task map[string]any) {
	carrier := MapCarrier{}
	InjectContext(ctx, carrier)
	if len(carrier) == 0 {
		return
	}
	fields := make(map[string]any, len(carrier))
	for k, v := range carrier {
		fields[k] = v
	}
	task[TraceField] = fields
}

// ExtractTask returns ctx extended with the trace context stored in task.
func ExtractTask(ctx context.Context, task map[string]any) context.Context {
	fields, ok := task[TraceField].(map[string]any)
	if !ok {
		return ctx
	}
	carrier := MapCarrier{}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			carrier[k] = s
		}
	}
	return ExtractContext(ctx, carrier)
}

// MapCarrier is a simple map-based TextMapCarrier for context propagation.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string {
	return c[key]
}

func (c MapCarrier) Set(key, value string) {
	c[key] = value
}

func (c MapCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
