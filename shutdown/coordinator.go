package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/crawlkit/logging"
)

// Coordinator runs registered shutdown steps phase by phase. Steps
// in the same phase run concurrently.
type Coordinator struct {
	config Config
	logger *logging.Logger

	mu    sync.Mutex
	steps []registration

	once    sync.Once
	started chan struct{}
	done    chan struct{}
	err     error
	result  *Report

	signals chan os.Signal
}

type registration struct {
	name    string
	stopper Stopper
	phase   int
}

// NewCoordinator creates a coordinator, filling unset fields from DefaultConfig.
func NewCoordinator(config Config) *Coordinator {
	def := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = def.DefaultPhase
	}
	if len(config.Signals) == 0 {
		config.Signals = def.Signals
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	return &Coordinator{
		config:  config,
		logger:  logger.WithComponent("shutdown"),
		started: make(chan struct{}),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a step in the default phase.
func (c *Coordinator) Register(name string, stopper Stopper) {
	c.RegisterWithPhase(name, stopper, c.config.DefaultPhase)
}

// RegisterWithPhase adds a step in the given phase.
func (c *Coordinator) RegisterWithPhase(name string, stopper Stopper, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, registration{name: name, stopper: stopper, phase: phase})
}

// RegisterFunc registers a function in the default phase.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, StopFunc(fn))
}

// RegisterFuncWithPhase registers a function in the given phase.
func (c *Coordinator) RegisterFuncWithPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, StopFunc(fn), phase)
}

// Shutdown runs every step once and returns the outcome. Any other call
// waits for that run to finish and returns ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		close(c.started)
		c.err = c.run(ctx)
		close(c.done)
	})
	if !first {
		<-c.done
		return ErrAlreadyShutdown
	}
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout (0 = configured timeout).
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals starts shutdown when one of the configured signals arrives.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, c.config.Signals...)

	go func() {
		select {
		case sig := <-c.signals:
			c.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
			_ = c.ShutdownWithTimeout(c.config.Timeout)
		case <-c.started:
		}
		signal.Stop(c.signals)
	}()
}

// Trigger simulates the first configured signal.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- c.config.Signals[0]:
	default:
	}
}

// Started is closed as soon as shutdown begins.
func (c *Coordinator) Started() <-chan struct{} {
	return c.started
}

// Done is closed when shutdown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Result returns the detailed result once Done is closed.
func (c *Coordinator) Result() *Report {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	steps := make([]registration, len(c.steps))
	copy(steps, c.steps)
	c.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].phase < steps[j].phase
	})

	result := &Report{Results: make([]StepResult, 0, len(steps))}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = time.Since(start)
		c.result = result
		if err != nil {
			c.logger.Error("shutdown incomplete", map[string]interface{}{
				"error":    err.Error(),
				"failed":   result.FailedSteps(),
				"duration": result.TotalDuration.String(),
			})
		} else {
			c.logger.Info("shutdown complete", map[string]interface{}{
				"duration": result.TotalDuration.String(),
			})
		}
		return err
	}

	var failed error
	for _, group := range groupByPhase(steps) {
		if ctx.Err() != nil {
			return finish(ErrTimeout)
		}

		for _, sr := range c.runPhase(ctx, group) {
			result.Results = append(result.Results, sr)
			if sr.Err != nil {
				failed = ErrStepFailed
			}
		}
		if failed != nil && !c.config.ContinueOnError {
			return finish(failed)
		}
	}
	return finish(failed)
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []StepResult {
	results := make([]StepResult, len(group))
	var wg sync.WaitGroup

	for i, reg := range group {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()

			start := time.Now()
			err := reg.stopper.OnShutdown(ctx)
			sr := StepResult{
				Name:     reg.name,
				Phase:    reg.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[i] = sr

			fields := map[string]interface{}{
				"step":     sr.Name,
				"phase":    sr.Phase,
				"duration": sr.Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.logger.Warn("shutdown step failed", fields)
			} else {
				c.logger.Debug("shutdown step done", fields)
			}
			if c.config.OnProgress != nil {
				c.config.OnProgress(sr)
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits steps sorted by phase into per-phase groups.
func groupByPhase(steps []registration) [][]registration {
	var groups [][]registration
	for i, h := range steps {
		if i == 0 || h.phase != steps[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
