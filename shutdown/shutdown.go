package shutdown

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/vinayprograms/crawlkit/logging"
)

// Common errors.
var (
	// ErrAlreadyShutdown indicates shutdown was already initiated.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout indicates shutdown did not complete within the timeout.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrStepFailed indicates one or more steps failed during shutdown.
	ErrStepFailed = errors.New("one or more steps failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Phases used by the crawler process. Lower phases stop first.
const (
	// PhaseOperations cancels and joins the dispatcher and background operations.
	PhaseOperations = 10

	// PhaseStore closes the coordination store connection.
	PhaseStore = 30

	// PhaseTelemetry flushes spans and events.
	PhaseTelemetry = 40
)

// Stopper is implemented by components that need graceful shutdown.
type Stopper interface {
	// OnShutdown is called when shutdown is initiated. ctx is cancelled
	// when the shutdown timeout is reached.
	OnShutdown(ctx context.Context) error
}

// StopFunc is a convenience type for simple shutdown functions.
type StopFunc func(ctx context.Context) error

// OnShutdown implements Stopper.
func (f StopFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Report is the outcome of a complete shutdown.
type Report struct {
	TotalDuration time.Duration
	Results       []StepResult

	// Err is nil if every step succeeded in time.
	Err error
}

// Failed returns true if any step failed.
func (r *Report) Failed() bool {
	return r.Err != nil
}

// FailedSteps returns the names of steps that failed.
func (r *Report) FailedSteps() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the shutdown coordinator.
type Config struct {
	// Timeout bounds a signal-triggered shutdown.
	// Default: 30 seconds
	Timeout time.Duration

	// DefaultPhase is assigned by Register.
	// Default: 100
	DefaultPhase int

	// ContinueOnError runs later phases even if a step failed.
	// Default: true
	ContinueOnError bool

	// Signals that trigger shutdown.
	// Default: SIGTERM, SIGINT
	Signals []os.Signal

	// Logger for shutdown progress (optional).
	Logger *logging.Logger

	// OnProgress is called when each step completes.
	OnProgress func(result StepResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 || c.DefaultPhase < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		DefaultPhase:    100,
		ContinueOnError: true,
		Signals:         []os.Signal{syscall.SIGTERM, syscall.SIGINT},
	}
}
