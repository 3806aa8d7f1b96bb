package handler

import (
	"errors"
	"sync"
)

// Common errors.
var (
	ErrNilHandler    = errors.New("handler is nil")
	ErrEmptyName     = errors.New("handler name is empty")
	ErrDuplicateName = errors.New("duplicate handler name")
)

type entry struct {
	handler    Handler
	leaderOnly bool
	active     bool
}

// Registry is the ordered list of handlers a worker dispatches to.
// Registration order is routing order.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
	names   map[string]bool
	leading bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register adds a handler that is active on every worker.
func (r *Registry) Register(h Handler) error {
	return r.add(h, false)
}

// RegisterLeaderOnly adds a handler that becomes active once this worker is
// leader.
func (r *Registry) RegisterLeaderOnly(h Handler) error {
	return r.add(h, true)
}

func (r *Registry) add(h Handler, leaderOnly bool) error {
	if h == nil {
		return ErrNilHandler
	}
	name := h.Name()
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.names[name] {
		return ErrDuplicateName
	}
	r.names[name] = true
	r.entries = append(r.entries, entry{
		handler:    h,
		leaderOnly: leaderOnly,
		active:     !leaderOnly || r.leading,
	})
	return nil
}

// ActivateLeaderOnly activates every leader-only handler. It returns the
// names of handlers that were newly activated, so it is empty on every call
// after the first.
func (r *Registry) ActivateLeaderOnly() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.leading {
		return nil
	}
	r.leading = true

	var names []string
	for i := range r.entries {
		if r.entries[i].leaderOnly && !r.entries[i].active {
			r.entries[i].active = true
			names = append(names, r.entries[i].handler.Name())
		}
	}
	return names
}

// LeaderOnlyActive reports whether leader-only handlers have been activated.
func (r *Registry) LeaderOnlyActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.leading
}

// Active returns the active handlers in routing order.
func (r *Registry) Active() []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Handler, 0, len(r.entries))
	for _, e := range r.entries {
		if e.active {
			out = append(out, e.handler)
		}
	}
	return out
}

// Route returns the first active handler that accepts the task.
func (r *Registry) Route(task Task) (Handler, bool) {
	for _, h := range r.Active() {
		if h.Accept(task) {
			return h, true
		}
	}
	return nil, false
}

// Deferred returns the first handler that wants the task kept on the queue.
// An active handler defers tasks it reports through Defers. A leader-only
// handler that is not active here defers everything it would accept or defer,
// so its tasks wait for the leader instead of being dropped.
func (r *Registry) Deferred(task Task) (Handler, bool) {
	r.mu.RLock()
	entries := make([]entry, len(r.entries))
	copy(entries, r.entries)
	r.mu.RUnlock()

	for _, e := range entries {
		d, isDeferrer := e.handler.(Deferrer)
		if isDeferrer && d.Defers(task) {
			return e.handler, true
		}
		if e.leaderOnly && !e.active && e.handler.Accept(task) {
			return e.handler, true
		}
	}
	return nil, false
}
