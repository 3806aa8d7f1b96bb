package store

import (
	"context"
	"sync"

	"github.com/vinayprograms/crawlkit/codec"
	crawlerr "github.com/vinayprograms/crawlkit/errors"
	"github.com/vinayprograms/crawlkit/logging"
)

// AcquireHook runs on every scoped acquisition, after the connection is live.
// A failing hook ends the scope and fails Acquire.
type AcquireHook func(ctx context.Context, c *Conn) error

// Manager owns the single store connection of a worker process and hands out
// scopes over it. The connection is opened lazily on the first scope, shared
// by concurrent scopes, and closed when the last scope is released. A scope
// that observes a connection failure marks the handle broken so the next
// scope dials again instead of reusing it.
type Manager struct {
	dial     Dialer
	identity string
	codec    codec.Codec
	hooks    []AcquireHook
	logger   *logging.Logger

	mu      sync.Mutex
	current *handle
	closed  bool
}

// handle is one dialled connection and the scopes using it.
type handle struct {
	backend Backend
	refs    int
	broken  bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCodec sets the value codec. Default: codec.Msgpack.
func WithCodec(c codec.Codec) ManagerOption {
	return func(m *Manager) {
		if c != nil {
			m.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l.WithComponent("store")
		}
	}
}

// WithAcquireHook adds a hook run on every Acquire, in registration order.
func WithAcquireHook(h AcquireHook) ManagerOption {
	return func(m *Manager) {
		if h != nil {
			m.hooks = append(m.hooks, h)
		}
	}
}

// NewManager creates a Manager for the given worker identity.
// No connection is made until the first Acquire.
func NewManager(dial Dialer, identity string, opts ...ManagerOption) (*Manager, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}
	if dial == nil {
		return nil, crawlerr.InvalidInput("store: dialer required")
	}

	m := &Manager{
		dial:     dial,
		identity: identity,
		codec:    codec.Msgpack,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Identity returns the worker identity.
func (m *Manager) Identity() string {
	return m.identity
}

// Connected reports whether a usable connection is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && !m.current.broken
}

// Acquire starts a scope, dialling if there is no usable connection, then
// runs the acquire hooks. The caller must Release the returned Conn.
func (m *Manager) Acquire(ctx context.Context) (*Conn, error) {
	h, err := m.retain(ctx)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		scope: &scope{mgr: m, handle: h},
		codec: m.codec,
	}
	for _, hook := range m.hooks {
		if err := hook(ctx, c); err != nil {
			c.Release()
			return nil, err
		}
	}
	return c, nil
}

// Do runs fn inside a scope. The scope is released on every exit path.
func (m *Manager) Do(ctx context.Context, fn func(*Conn) error) (err error) {
	c, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.Release()
	return fn(c)
}

// Close closes the open connection, if any. Later Acquire calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	h := m.current
	m.current = nil
	if h == nil {
		return nil
	}
	return h.backend.Close()
}

func (m *Manager) retain(ctx context.Context) (*handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	if m.current != nil && m.current.broken {
		// Scopes still holding the broken handle close it on release.
		m.current = nil
	}

	if m.current == nil {
		backend, err := m.dial(ctx)
		if err != nil {
			m.logger.Warn("dial failed", map[string]interface{}{"error": err.Error()})
			return nil, crawlerr.Wrap(err, "store: connect")
		}
		m.current = &handle{backend: backend}
		m.logger.Debug("connected")
	}

	m.current.refs++
	return m.current, nil
}

func (m *Manager) release(h *handle, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if failed {
		h.broken = true
	}
	h.refs--
	if h.refs > 0 {
		return
	}

	if m.current == h {
		m.current = nil
	}
	if err := h.backend.Close(); err != nil {
		m.logger.Debug("close failed", map[string]interface{}{"error": err.Error()})
	}
}
