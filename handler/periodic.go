package handler

import (
	"context"
	"errors"
	"time"
)

// ErrNoAction is returned by Periodic.Do when no Action is set.
var ErrNoAction = errors.New("periodic handler has no action")

// Periodic is a self-rescheduling handler. It accepts tasks of Kind whose
// Field (Unix seconds) is at or before now, runs Action, and returns exactly
// one child of the same kind with Field advanced by Interval.
type Periodic struct {
	// HandlerName defaults to Kind.
	HandlerName string

	// Kind is the task discriminator this handler owns.
	Kind string

	// Field holds the scheduled time in Unix seconds.
	Field string

	// Interval between runs.
	Interval time.Duration

	// Action is the periodic work.
	Action func(ctx context.Context, task Task) error

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

var (
	_ Handler  = (*Periodic)(nil)
	_ Deferrer = (*Periodic)(nil)
)

// Name returns HandlerName or Kind.
func (p *Periodic) Name() string {
	if p.HandlerName != "" {
		return p.HandlerName
	}
	return p.Kind
}

func (p *Periodic) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Accept takes tasks of Kind that are due. A task without a scheduled time
// is due immediately.
func (p *Periodic) Accept(task Task) bool {
	if task.Kind() != p.Kind {
		return false
	}
	at, ok := task.Number(p.Field)
	if !ok {
		return true
	}
	return at <= UnixSeconds(p.now())
}

// Defers reports tasks of Kind that are not due yet.
func (p *Periodic) Defers(task Task) bool {
	return task.Kind() == p.Kind && !p.Accept(task)
}

// Do runs Action and schedules the next run one Interval after this one.
// When Action fails no child is returned.
func (p *Periodic) Do(ctx context.Context, task Task) ([]Task, error) {
	if p.Action == nil {
		return nil, ErrNoAction
	}
	if err := p.Action(ctx, task); err != nil {
		return nil, err
	}
	return []Task{p.Next(task)}, nil
}

// Next returns the follow-up of task, scheduled one Interval later.
func (p *Periodic) Next(task Task) Task {
	at, ok := task.Number(p.Field)
	if !ok {
		at = UnixSeconds(p.now())
	}
	child := task.Clone()
	child[KindField] = p.Kind
	child[p.Field] = at + p.Interval.Seconds()
	return child
}

// NewTask returns a task of Kind scheduled at the given time.
func (p *Periodic) NewTask(at time.Time) Task {
	return NewTask(p.Kind, map[string]any{p.Field: UnixSeconds(at)})
}
