package shutdown

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	crawlerr "github.com/vinayprograms/crawlkit/errors"
	"github.com/vinayprograms/crawlkit/logging"
)

// Supervisor tracks every long-running operation of a process. Stopping it
// cancels all of them and waits until each has returned. Cancellation
// errors from stopped operations are expected and dropped; the first other
// failure cancels the remaining operations and is returned by Wait.
//
// A Supervisor is a Stopper, so it can be registered with a
// Coordinator.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
	logger *logging.Logger

	running atomic.Int32

	waitOnce sync.Once
	waitDone chan struct{}
	waitErr  error
}

var _ Stopper = (*Supervisor)(nil)

// NewSupervisor creates a Supervisor whose operations run under a child of parent.
func NewSupervisor(parent context.Context, logger *logging.Logger) *Supervisor {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(parent)
	group, gctx := errgroup.WithContext(ctx)
	return &Supervisor{
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
		logger:   logger.WithComponent("supervisor"),
		waitDone: make(chan struct{}),
	}
}

// Context is cancelled when the Supervisor stops or an operation fails.
func (s *Supervisor) Context() context.Context {
	return s.ctx
}

// Go starts a named operation. fn must return once its context is cancelled.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.running.Add(1)
	s.group.Go(func() (err error) {
		defer s.running.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				err = crawlerr.RecoverPanic(r)
			}
			err = s.settle(name, err)
		}()
		return fn(s.ctx)
	})
}

// settle drops cancellation errors and logs the rest.
func (s *Supervisor) settle(name string, err error) error {
	if err == nil {
		s.logger.Debug("operation finished", map[string]interface{}{"operation": name})
		return nil
	}
	if crawlerr.IsCanceled(err) {
		s.logger.Debug("operation cancelled", map[string]interface{}{"operation": name})
		return nil
	}
	s.logger.Error("operation failed", map[string]interface{}{
		"operation": name,
		"error":     err.Error(),
	})
	return crawlerr.Wrap(err, name)
}

// Running returns how many operations have not returned yet.
func (s *Supervisor) Running() int {
	return int(s.running.Load())
}

// Stop cancels every operation without waiting.
func (s *Supervisor) Stop() {
	s.cancel()
}

// Wait blocks until every operation has returned and reports the first
// failure that was not a cancellation.
func (s *Supervisor) Wait() error {
	s.waitOnce.Do(func() {
		go func() {
			s.waitErr = s.group.Wait()
			s.cancel()
			close(s.waitDone)
		}()
	})
	<-s.waitDone
	return s.waitErr
}

// Done is closed once every operation has returned after Wait or OnShutdown.
func (s *Supervisor) Done() <-chan struct{} {
	return s.waitDone
}

// OnShutdown cancels every operation and joins them, giving up when ctx ends.
func (s *Supervisor) OnShutdown(ctx context.Context) error {
	s.Stop()

	errc := make(chan error, 1)
	go func() { errc <- s.Wait() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Warn("operations still running at shutdown deadline", map[string]interface{}{
			"running": s.Running(),
		})
		return ErrTimeout
	}
}
