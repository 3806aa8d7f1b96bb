package handler

import (
	"context"
)

// Handler processes one family of tasks.
type Handler interface {
	// Name identifies the handler in logs and errors. Names are unique
	// within a Registry.
	Name() string

	// Accept reports whether the handler takes the task. It must not have
	// side effects.
	Accept(task Task) bool

	// Do processes the task and returns follow-up tasks to enqueue.
	// Do must honour ctx cancellation; a cancelled task is not acknowledged.
	Do(ctx context.Context, task Task) ([]Task, error)
}

// Deferrer is implemented by handlers that recognise tasks they do not
// accept yet, such as periodic tasks popped before they are due. Deferred
// tasks are put back on the queue instead of being dropped.
type Deferrer interface {
	Defers(task Task) bool
}

// Func adapts plain functions into a Handler.
type Func struct {
	HandlerName string
	AcceptFunc  func(Task) bool
	DoFunc      func(context.Context, Task) ([]Task, error)
}

var _ Handler = (*Func)(nil)

// Name returns HandlerName.
func (f *Func) Name() string { return f.HandlerName }

// Accept calls AcceptFunc. A nil AcceptFunc accepts nothing.
func (f *Func) Accept(task Task) bool {
	if f.AcceptFunc == nil {
		return false
	}
	return f.AcceptFunc(task)
}

// Do calls DoFunc. A nil DoFunc does nothing.
func (f *Func) Do(ctx context.Context, task Task) ([]Task, error) {
	if f.DoFunc == nil {
		return nil, nil
	}
	return f.DoFunc(ctx, task)
}

// KindIs returns an accept predicate matching tasks of the given kind.
func KindIs(kind string) func(Task) bool {
	return func(t Task) bool { return t.Kind() == kind }
}
