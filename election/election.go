package election

import (
	"context"
	"errors"
	"time"

	"github.com/vinayprograms/crawlkit/logging"
	"github.com/vinayprograms/crawlkit/store"
)

// Defaults.
const (
	DefaultKey = "LEADER"
	DefaultTTL = 1200 * time.Second
)

// ErrNoIdentity is returned when no worker identity is configured.
var ErrNoIdentity = errors.New("election: identity required")

// Config configures an Elector.
type Config struct {
	// Key is the lease key.
	// Default: "LEADER"
	Key string

	// Identity is this worker's identity, stored as the lease value.
	Identity string

	// TTL bounds how long a lease survives without its holder.
	// Default: 1200 seconds
	TTL time.Duration

	// Logger for election events (optional).
	Logger *logging.Logger
}

// Elector attempts and checks leadership for one worker.
type Elector struct {
	key      string
	identity string
	ttl      time.Duration
	logger   *logging.Logger
}

// New creates an Elector, filling in defaults.
func New(cfg Config) (*Elector, error) {
	if cfg.Identity == "" {
		return nil, ErrNoIdentity
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Elector{
		key:      cfg.Key,
		identity: cfg.Identity,
		ttl:      cfg.TTL,
		logger:   logger.WithComponent("election"),
	}, nil
}

// Key returns the lease key.
func (e *Elector) Key() string { return e.key }

// Identity returns the identity this Elector campaigns with.
func (e *Elector) Identity() string { return e.identity }

// TTL returns the lease TTL.
func (e *Elector) TTL() time.Duration { return e.ttl }

// Elect tries to take the lease. It reports whether this call established
// leadership; false means someone (possibly this worker) already holds it.
func (e *Elector) Elect(ctx context.Context, c *store.Conn) (bool, error) {
	ok, err := c.AcquireLease(ctx, e.key, e.identity, e.ttl)
	if err != nil {
		return false, err
	}
	if ok {
		e.logger.LeaderAcquired(e.key, e.ttl)
	}
	return ok, nil
}

// IsLeader reports whether this worker currently holds the lease.
func (e *Elector) IsLeader(ctx context.Context, c *store.Conn) (bool, error) {
	return c.IsLeader(ctx, e.key, e.identity)
}

// Leader returns the identity holding the lease, or "" if nobody does.
func (e *Elector) Leader(ctx context.Context, c *store.Conn) (string, error) {
	owner, err := c.LeaseOwner(ctx, e.key)
	if err != nil {
		return "", err
	}
	return string(owner), nil
}

// Hook returns a store.AcquireHook that campaigns on every scoped acquisition.
func (e *Elector) Hook() store.AcquireHook {
	return func(ctx context.Context, c *store.Conn) error {
		_, err := e.Elect(ctx, c)
		return err
	}
}
