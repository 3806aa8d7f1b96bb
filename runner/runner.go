package runner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/crawlkit/codec"
	"github.com/vinayprograms/crawlkit/election"
	crawlerr "github.com/vinayprograms/crawlkit/errors"
	"github.com/vinayprograms/crawlkit/handler"
	"github.com/vinayprograms/crawlkit/logging"
	"github.com/vinayprograms/crawlkit/store"
	"github.com/vinayprograms/crawlkit/telemetry"
)

// Defaults.
const (
	DefaultQueueKey   = "TASK_QUEUE"
	DefaultSleepEmpty = 60 * time.Second
)

// Common errors.
var (
	ErrNilManager  = errors.New("runner: store manager is nil")
	ErrNilRegistry = errors.New("runner: handler registry is nil")
)

// State is a dispatch loop state.
type State int32

const (
	StatePolling State = iota
	StateProcessing
	StateSleeping
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateSleeping:
		return "sleeping"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}

// Config configures a Runner.
type Config struct {
	// QueueKey is the shared task queue.
	// Default: "TASK_QUEUE"
	QueueKey string

	// SleepEmpty is how long to wait after finding the queue empty, after
	// deferring every queued task, or after a failure.
	// Default: 60 seconds (when zero or negative)
	SleepEmpty time.Duration

	// FailFast makes Run return the first failure instead of logging it.
	FailFast bool

	// Elector decides whether leader-only handlers activate. Without one
	// they never do.
	Elector *election.Elector

	// Logger for dispatch events (optional).
	Logger *logging.Logger

	// Tracer for task spans. Default: the global tracer.
	Tracer *telemetry.Tracer

	// Events receives dispatch events. Default: discard.
	Events telemetry.Exporter
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		QueueKey:   DefaultQueueKey,
		SleepEmpty: DefaultSleepEmpty,
	}
}

// Stats are dispatch counters since the Runner was created.
type Stats struct {
	State      string `json:"state"`
	Processed  int64  `json:"processed"`
	Failed     int64  `json:"failed"`
	Unroutable int64  `json:"unroutable"`
	Deferred   int64  `json:"deferred"`
}

// dispatch is a popped task awaiting processing.
type dispatch struct {
	item    *store.Item
	task    handler.Task
	handler handler.Handler
}

// Runner is one worker's dispatch loop. Step and Run must not be called
// concurrently; State and Stats may be read from any goroutine.
type Runner struct {
	mgr      *store.Manager
	registry *handler.Registry
	elector  *election.Elector
	queue    string
	sleep    time.Duration
	failFast bool
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	events   telemetry.Exporter

	state   atomic.Int32
	pending *dispatch

	// deferStreak counts deferrals since the last task that was not deferred.
	deferStreak int64

	processed  atomic.Int64
	failed     atomic.Int64
	unroutable atomic.Int64
	deferred   atomic.Int64
}

// New creates a Runner in the polling state.
func New(mgr *store.Manager, registry *handler.Registry, cfg Config) (*Runner, error) {
	if mgr == nil {
		return nil, ErrNilManager
	}
	if registry == nil {
		return nil, ErrNilRegistry
	}
	if cfg.QueueKey == "" {
		cfg.QueueKey = DefaultQueueKey
	}
	if err := store.ValidateKey(cfg.QueueKey); err != nil {
		return nil, err
	}
	if cfg.SleepEmpty <= 0 {
		cfg.SleepEmpty = DefaultSleepEmpty
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.GetTracer()
	}
	events := cfg.Events
	if events == nil {
		events = telemetry.NewNoopExporter()
	}

	return &Runner{
		mgr:      mgr,
		registry: registry,
		elector:  cfg.Elector,
		queue:    cfg.QueueKey,
		sleep:    cfg.SleepEmpty,
		failFast: cfg.FailFast,
		logger:   logger.WithComponent("runner").WithWorker(mgr.Identity()),
		tracer:   tracer,
		events:   events,
	}, nil
}

// State returns the current state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// QueueKey returns the queue this runner consumes.
func (r *Runner) QueueKey() string {
	return r.queue
}

// Stats returns a snapshot of the dispatch counters.
func (r *Runner) Stats() Stats {
	return Stats{
		State:      r.State().String(),
		Processed:  r.processed.Load(),
		Failed:     r.failed.Load(),
		Unroutable: r.unroutable.Load(),
		Deferred:   r.deferred.Load(),
	}
}

// Run steps the loop until ctx is canceled, which returns nil. With
// FailFast it also returns the first failure.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("runner_started", map[string]interface{}{
		"queue": r.queue,
		"sleep": r.sleep.String(),
	})
	defer r.logger.Info("runner_stopped")

	for {
		state, err := r.Step(ctx)
		if err != nil {
			return err
		}
		if state == StateShuttingDown {
			return nil
		}
	}
}

// Step performs the work of the current state and returns the next one.
// An error is returned only with FailFast; otherwise failures are logged and
// the runner sleeps.
func (r *Runner) Step(ctx context.Context) (State, error) {
	if ctx.Err() != nil {
		return r.enter(StateShuttingDown), nil
	}

	var (
		next State
		err  error
	)
	switch r.State() {
	case StatePolling:
		next, err = r.poll(ctx)
	case StateProcessing:
		next, err = r.process(ctx)
	case StateSleeping:
		next = r.wait(ctx, r.sleep)
	case StateShuttingDown:
		return StateShuttingDown, nil
	}

	if err != nil {
		if ctx.Err() != nil || crawlerr.IsCanceled(err) {
			return r.enter(StateShuttingDown), nil
		}
		if r.failFast {
			return r.enter(StateShuttingDown), err
		}
		r.logger.Error("dispatch_failed", map[string]interface{}{
			"code":  crawlerr.Code(err).String(),
			"error": err.Error(),
		})
		next = StateSleeping
	}
	return r.enter(next), nil
}

func (r *Runner) enter(s State) State {
	r.state.Store(int32(s))
	return s
}

// wait sleeps for d unless ctx ends first.
func (r *Runner) wait(ctx context.Context, d time.Duration) State {
	if d <= 0 {
		return StatePolling
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return StateShuttingDown
	case <-timer.C:
		return StatePolling
	}
}

// poll pops one task and decides what to do with it.
func (r *Runner) poll(ctx context.Context) (State, error) {
	next := StatePolling
	err := r.mgr.Do(ctx, func(c *store.Conn) error {
		if err := r.activateIfLeader(ctx, c); err != nil {
			return err
		}

		item, err := c.QueueReliablePopItem(ctx, r.queue)
		if err != nil {
			if item != nil && crawlerr.Is(err, crawlerr.ErrCodeCodec) {
				r.logger.Warn("task_undecodable", map[string]interface{}{
					"bytes": len(item.Data),
					"error": err.Error(),
				})
				_, err = c.QueueAcknowledgeItem(ctx, r.queue, item)
			}
			return err
		}
		if item == nil {
			r.deferStreak = 0
			r.logger.QueueEmpty(r.queue, r.sleep)
			next = StateSleeping
			return nil
		}

		task, ok := handler.FromValue(item.Value)
		if !ok {
			r.logger.Warn("task_malformed", map[string]interface{}{
				"type": fmt.Sprintf("%T", item.Value),
			})
			_, err := c.QueueAcknowledgeItem(ctx, r.queue, item)
			return err
		}

		if h, ok := r.registry.Route(task); ok {
			r.deferStreak = 0
			r.logger.TaskRouted(task.Kind(), h.Name())
			r.pending = &dispatch{item: item, task: task, handler: h}
			next = StateProcessing
			return nil
		}

		if h, ok := r.registry.Deferred(task); ok {
			if err := r.requeue(ctx, c, item); err != nil {
				return err
			}
			r.deferred.Add(1)
			r.logger.TaskDeferred(task.Kind(), h.Name())
			r.record(ctx, task, telemetry.EventTaskDeferred, telemetry.TaskSpanOptions{
				Handler: h.Name(),
				Outcome: telemetry.OutcomeDeferred,
			})
			next, err = r.afterDefer(ctx, c)
			return err
		}

		r.deferStreak = 0
		if _, err := c.QueueAcknowledgeItem(ctx, r.queue, item); err != nil {
			return err
		}
		r.unroutable.Add(1)
		r.logger.TaskUnroutable(task.Kind())
		r.record(ctx, task, telemetry.EventTaskUnroutable, telemetry.TaskSpanOptions{
			Outcome: telemetry.OutcomeUnroutable,
		})
		return nil
	})
	return next, err
}

func (r *Runner) activateIfLeader(ctx context.Context, c *store.Conn) error {
	if r.elector == nil || r.registry.LeaderOnlyActive() {
		return nil
	}
	leader, err := r.elector.IsLeader(ctx, c)
	if err != nil || !leader {
		return err
	}
	if names := r.registry.ActivateLeaderOnly(); len(names) > 0 {
		r.logger.HandlersActivated(names)
	}
	return nil
}

// afterDefer keeps polling while the queue holds tasks that have not been
// deferred since the last real dispatch, and sleeps once every queued task
// has been passed over.
func (r *Runner) afterDefer(ctx context.Context, c *store.Conn) (State, error) {
	r.deferStreak++
	queued, err := c.QueueLength(ctx, r.queue)
	if err != nil {
		return StateSleeping, err
	}
	if r.deferStreak >= queued {
		r.deferStreak = 0
		return StateSleeping, nil
	}
	return StatePolling, nil
}

// requeue puts a popped item back at the end of the queue, byte for byte,
// and clears it from the in-flight list.
func (r *Runner) requeue(ctx context.Context, c *store.Conn, item *store.Item) error {
	if err := c.QueuePush(ctx, r.queue, codec.Raw(item.Data)); err != nil {
		return err
	}
	_, err := c.QueueAcknowledgeItem(ctx, r.queue, item)
	return err
}

// process runs the pending task's handler, then commits its children and
// acknowledges it.
func (r *Runner) process(ctx context.Context) (State, error) {
	d := r.pending
	r.pending = nil
	if d == nil {
		return StatePolling, nil
	}

	kind := d.task.Kind()
	name := d.handler.Name()
	start := time.Now()

	tctx, span := r.tracer.StartTaskSpan(telemetry.ExtractTask(ctx, d.task), kind)
	children, err := invoke(tctx, d.handler, d.task)
	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the handler. The task stays in flight and
		// is not counted as a failure.
		r.tracer.EndTaskSpan(span, telemetry.TaskSpanOptions{Handler: name, Outcome: telemetry.OutcomeCanceled}, nil)
		r.logger.Info("task_interrupted", map[string]interface{}{
			"task":    kind,
			"handler": name,
		})
		return StateShuttingDown, crawlerr.Wrap(ctx.Err(), "handler interrupted by shutdown",
			crawlerr.WithWorker(r.mgr.Identity()), crawlerr.WithKind(kind))
	}
	if err != nil {
		err = crawlerr.HandlerFailed(name, kind, err, crawlerr.WithWorker(r.mgr.Identity()))
		r.failed.Add(1)
		r.tracer.EndTaskSpan(span, telemetry.TaskSpanOptions{Handler: name, Outcome: telemetry.OutcomeFailed}, err)
		r.events.LogEvent(telemetry.EventTaskFailed, map[string]interface{}{
			"task":    kind,
			"handler": name,
			"error":   err.Error(),
		})
		return StatePolling, err
	}

	// Children and the ack are committed even if shutdown began while the
	// handler ran.
	commit := context.WithoutCancel(ctx)
	err = r.mgr.Do(commit, func(c *store.Conn) error {
		if len(children) > 0 {
			values := make([]any, len(children))
			for i, child := range children {
				out := child.Clone()
				telemetry.InjectTask(tctx, out)
				values[i] = out
			}
			if err := c.QueuePush(commit, r.queue, values...); err != nil {
				return err
			}
		}
		_, err := c.QueueAcknowledgeItem(commit, r.queue, d.item)
		return err
	})

	opts := telemetry.TaskSpanOptions{Handler: name, Outcome: telemetry.OutcomeProcessed, Children: len(children)}
	if err != nil {
		opts.Outcome = telemetry.OutcomeFailed
		r.failed.Add(1)
		r.tracer.EndTaskSpan(span, opts, err)
		return StatePolling, err
	}
	r.tracer.EndTaskSpan(span, opts, nil)

	elapsed := time.Since(start)
	r.processed.Add(1)
	r.logger.TaskFinished(kind, name, len(children), elapsed)
	r.events.LogEvent(telemetry.EventTaskFinished, map[string]interface{}{
		"task":        kind,
		"handler":     name,
		"children":    len(children),
		"duration_ms": elapsed.Milliseconds(),
	})
	return StatePolling, nil
}

// invoke calls h.Do, converting a panic into an error.
func invoke(ctx context.Context, h handler.Handler, task handler.Task) (children []handler.Task, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			children, err = nil, crawlerr.RecoverPanic(rec)
		}
	}()
	return h.Do(ctx, task)
}

// record emits a span and an event for a task that was not processed.
func (r *Runner) record(ctx context.Context, task handler.Task, event string, opts telemetry.TaskSpanOptions) {
	_, span := r.tracer.StartTaskSpan(telemetry.ExtractTask(ctx, task), task.Kind())
	r.tracer.EndTaskSpan(span, opts, nil)

	data := map[string]interface{}{"task": task.Kind()}
	if opts.Handler != "" {
		data["handler"] = opts.Handler
	}
	r.events.LogEvent(event, data)
}
