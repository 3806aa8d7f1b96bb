package store

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	crawlerr "github.com/vinayprograms/crawlkit/errors"
)

// MemoryStore is an in-process implementation of the store protocol.
// Many connections (one per Dialer call) share the same data, so several
// Managers over one MemoryStore behave like workers sharing one Redis.
type MemoryStore struct {
	mu      sync.Mutex
	strings map[string]*entry
	sets    map[string]map[string]struct{}
	lists   map[string][][]byte // index 0 is the head (left)
	closed  atomic.Bool

	// unavailable makes every dial and operation fail like a dropped connection.
	unavailable atomic.Bool
	dials       atomic.Int64

	// For TTL cleanup
	cleanupTicker *time.Ticker
	done          chan struct{}
}

type entry struct {
	value   []byte
	expires time.Time // Zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		strings:       make(map[string]*entry),
		sets:          make(map[string]map[string]struct{}),
		lists:         make(map[string][][]byte),
		cleanupTicker: time.NewTicker(time.Second),
		done:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// cleanupLoop removes expired entries periodically.
func (s *MemoryStore) cleanupLoop() {
	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanupExpired()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) cleanupExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.strings {
		if e.expired(now) {
			delete(s.strings, key)
		}
	}
}

// Dialer returns a Dialer that opens connections to this store.
func (s *MemoryStore) Dialer() Dialer {
	return func(ctx context.Context) (Backend, error) {
		if err := ctx.Err(); err != nil {
			return nil, crawlerr.Wrap(err, "memory dial")
		}
		if err := s.check(); err != nil {
			return nil, err
		}
		s.dials.Add(1)
		return &memoryConn{store: s}, nil
	}
}

// Dials returns how many connections have been opened.
func (s *MemoryStore) Dials() int64 {
	return s.dials.Load()
}

// SetUnavailable simulates the store going away (true) or coming back.
func (s *MemoryStore) SetUnavailable(down bool) {
	s.unavailable.Store(down)
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}

	close(s.done)
	s.cleanupTicker.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.strings = nil
	s.sets = nil
	s.lists = nil
	return nil
}

func (s *MemoryStore) check() error {
	if s.closed.Load() {
		return crawlerr.Connection("memory store", crawlerr.WithCause(ErrClosed))
	}
	if s.unavailable.Load() {
		return crawlerr.Connection("memory store", crawlerr.WithCause(ErrUnavailable))
	}
	return nil
}

// memoryConn is one connection to a MemoryStore.
type memoryConn struct {
	store  *MemoryStore
	closed atomic.Bool
}

var _ Backend = (*memoryConn)(nil)

// lock checks the connection and takes the store lock. Callers must unlock.
func (c *memoryConn) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return crawlerr.Wrap(err, "memory op")
	}
	if c.closed.Load() {
		return crawlerr.Connection("memory connection", crawlerr.WithCause(ErrClosed))
	}
	// Close may run between the first check and taking the lock.
	c.store.mu.Lock()
	if err := c.store.check(); err != nil {
		c.store.mu.Unlock()
		return err
	}
	return nil
}

func (c *memoryConn) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := c.lock(ctx); err != nil {
		return false, err
	}
	defer c.store.mu.Unlock()

	now := time.Now()
	if e, ok := c.store.strings[key]; ok && !e.expired(now) {
		return false, nil
	}

	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	c.store.strings[key] = &entry{value: cloneBytes(value), expires: expires}
	return true, nil
}

func (c *memoryConn) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()

	e, ok := c.store.strings[key]
	if !ok || e.expired(time.Now()) {
		return nil, nil
	}
	return cloneBytes(e.value), nil
}

func (c *memoryConn) SAdd(ctx context.Context, key string, members ...[]byte) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.store.mu.Unlock()

	set, ok := c.store.sets[key]
	if !ok {
		set = make(map[string]struct{})
		c.store.sets[key] = set
	}

	var added int64
	for _, m := range members {
		if _, exists := set[string(m)]; !exists {
			set[string(m)] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (c *memoryConn) SRandMember(ctx context.Context, key string) ([]byte, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()

	// Map iteration order is unspecified, which is all "arbitrary" needs.
	for m := range c.store.sets[key] {
		return []byte(m), nil
	}
	return nil, nil
}

func (c *memoryConn) SRem(ctx context.Context, key string, member []byte) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.store.mu.Unlock()

	set := c.store.sets[key]
	if _, ok := set[string(member)]; !ok {
		return 0, nil
	}
	delete(set, string(member))
	if len(set) == 0 {
		delete(c.store.sets, key)
	}
	return 1, nil
}

func (c *memoryConn) SCard(ctx context.Context, key string) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.store.mu.Unlock()

	return int64(len(c.store.sets[key])), nil
}

func (c *memoryConn) LPush(ctx context.Context, key string, values ...[]byte) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.store.mu.Unlock()

	c.store.lpush(key, values...)
	return int64(len(c.store.lists[key])), nil
}

// lpush must be called with the lock held.
func (s *MemoryStore) lpush(key string, values ...[]byte) {
	list := s.lists[key]
	for _, v := range values {
		list = append([][]byte{cloneBytes(v)}, list...)
	}
	s.lists[key] = list
}

func (c *memoryConn) RPopLPush(ctx context.Context, src, dst string) ([]byte, error) {
	if err := c.lock(ctx); err != nil {
		return nil, err
	}
	defer c.store.mu.Unlock()

	list := c.store.lists[src]
	if len(list) == 0 {
		return nil, nil
	}
	tail := list[len(list)-1]
	if len(list) == 1 {
		delete(c.store.lists, src)
	} else {
		c.store.lists[src] = list[:len(list)-1]
	}
	c.store.lpush(dst, tail)
	return cloneBytes(tail), nil
}

func (c *memoryConn) LRem(ctx context.Context, key string, count int64, value []byte) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.store.mu.Unlock()

	list := c.store.lists[key]
	limit := count
	if limit < 0 {
		limit = -limit
	}

	var removed int64
	matches := func(i int) bool {
		return (limit == 0 || removed < limit) && bytes.Equal(list[i], value)
	}

	kept := make([][]byte, 0, len(list))
	if count >= 0 {
		for i := range list {
			if matches(i) {
				removed++
				continue
			}
			kept = append(kept, list[i])
		}
	} else {
		for i := len(list) - 1; i >= 0; i-- {
			if matches(i) {
				removed++
				continue
			}
			kept = append([][]byte{list[i]}, kept...)
		}
	}

	if len(kept) == 0 {
		delete(c.store.lists, key)
	} else {
		c.store.lists[key] = kept
	}
	return removed, nil
}

func (c *memoryConn) LLen(ctx context.Context, key string) (int64, error) {
	if err := c.lock(ctx); err != nil {
		return 0, err
	}
	defer c.store.mu.Unlock()

	return int64(len(c.store.lists[key])), nil
}

func (c *memoryConn) Close() error {
	c.closed.Store(true)
	return nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
