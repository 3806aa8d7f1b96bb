package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/crawlkit/codec"
	crawlerr "github.com/vinayprograms/crawlkit/errors"
)

// scope is one acquisition of a Manager's connection.
type scope struct {
	mgr      *Manager
	handle   *handle
	failed   atomic.Bool
	released atomic.Bool
}

// Conn is a live scope over the coordination store. All operations fail
// with ErrScopeEnded once the scope has been released. Conn values derived
// with WithCodec share the scope of their parent.
type Conn struct {
	scope *scope
	codec codec.Codec
}

// Item is a value popped from a reliable queue. Data holds the bytes exactly
// as stored, which is what acknowledgement matches against.
type Item struct {
	Data  []byte
	Value any
}

// Identity returns the worker identity of the owning Manager.
func (c *Conn) Identity() string {
	return c.scope.mgr.identity
}

// Codec returns the codec used by this Conn.
func (c *Conn) Codec() codec.Codec {
	return c.codec
}

// WithCodec returns a Conn over the same scope that encodes with cd.
func (c *Conn) WithCodec(cd codec.Codec) *Conn {
	return &Conn{scope: c.scope, codec: cd}
}

// Release ends the scope. It is safe to call more than once.
func (c *Conn) Release() {
	s := c.scope
	if s.released.Swap(true) {
		return
	}
	s.mgr.release(s.handle, s.failed.Load())
}

// backend returns the live backend or an error if the scope has ended.
func (c *Conn) backend() (Backend, error) {
	if c.scope.released.Load() {
		return nil, ErrScopeEnded
	}
	return c.scope.handle.backend, nil
}

// check records connection failures so the handle is not reused.
func (c *Conn) check(err error) error {
	if err != nil && crawlerr.IsConnection(err) {
		c.scope.failed.Store(true)
	}
	return err
}

func (c *Conn) encode(v any) ([]byte, error) {
	data, err := c.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Conn) encodeAll(values []any) ([][]byte, error) {
	if len(values) == 0 {
		return nil, crawlerr.InvalidInput("store: "+ErrNoValues.Error(), crawlerr.WithCause(ErrNoValues))
	}
	out := make([][]byte, len(values))
	for i, v := range values {
		data, err := c.encode(v)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, nil
}

// --- Lease primitives ---

// AcquireLease sets key to owner with expiry ttl only if key is absent, and
// reports whether this call established ownership. The owner is stored
// unencoded so the lease stays human-readable.
func (c *Conn) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	if ttl <= 0 {
		return false, ErrInvalidTTL
	}
	b, err := c.backend()
	if err != nil {
		return false, err
	}
	ok, err := b.SetNX(ctx, key, []byte(owner), ttl)
	return ok, c.check(err)
}

// LeaseOwner returns the current owner of key, or nil if the lease is free.
func (c *Conn) LeaseOwner(ctx context.Context, key string) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	b, err := c.backend()
	if err != nil {
		return nil, err
	}
	v, err := b.Get(ctx, key)
	return v, c.check(err)
}

// IsLeader reports whether self currently holds the lease at key.
func (c *Conn) IsLeader(ctx context.Context, key, self string) (bool, error) {
	owner, err := c.LeaseOwner(ctx, key)
	if err != nil {
		return false, err
	}
	return owner != nil && string(owner) == self, nil
}

// --- Set primitives ---

// SetAdd encodes each value and adds it to the set. At least one value is required.
func (c *Conn) SetAdd(ctx context.Context, key string, values ...any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	members, err := c.encodeAll(values)
	if err != nil {
		return err
	}
	b, err := c.backend()
	if err != nil {
		return err
	}
	_, err = b.SAdd(ctx, key, members...)
	return c.check(err)
}

// SetPickRandom returns one arbitrary decoded member, or nil if the set is empty.
func (c *Conn) SetPickRandom(ctx context.Context, key string) (any, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	b, err := c.backend()
	if err != nil {
		return nil, err
	}
	data, err := b.SRandMember(ctx, key)
	if err := c.check(err); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return c.codec.Decode(data)
}

// SetRemove removes value from the set and returns 1 if it was a member.
func (c *Conn) SetRemove(ctx context.Context, key string, value any) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	data, err := c.encode(value)
	if err != nil {
		return 0, err
	}
	b, err := c.backend()
	if err != nil {
		return 0, err
	}
	n, err := b.SRem(ctx, key, data)
	return n, c.check(err)
}

// SetCount returns the number of members in the set.
func (c *Conn) SetCount(ctx context.Context, key string) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	b, err := c.backend()
	if err != nil {
		return 0, err
	}
	n, err := b.SCard(ctx, key)
	return n, c.check(err)
}

// --- Reliable queue primitives ---

// QueuePush encodes each value and pushes it onto the head of the queue.
// Values are popped from the tail, so the queue is FIFO.
func (c *Conn) QueuePush(ctx context.Context, key string, values ...any) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	items, err := c.encodeAll(values)
	if err != nil {
		return err
	}
	b, err := c.backend()
	if err != nil {
		return err
	}
	_, err = b.LPush(ctx, key, items...)
	return c.check(err)
}

// QueueReliablePop moves the oldest item of the queue into this worker's
// in-flight list and returns it decoded, or nil if the queue is empty.
func (c *Conn) QueueReliablePop(ctx context.Context, key string) (any, error) {
	item, err := c.QueueReliablePopItem(ctx, key)
	if err != nil || item == nil {
		return nil, err
	}
	return item.Value, nil
}

// QueueReliablePopItem is QueueReliablePop that also returns the stored bytes.
// It returns nil when the queue is empty.
//
// If the popped bytes cannot be decoded the item stays in the in-flight list
// and the error carries ErrCodeCodec; Data is still returned so the caller
// can acknowledge it.
func (c *Conn) QueueReliablePopItem(ctx context.Context, key string) (*Item, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	b, err := c.backend()
	if err != nil {
		return nil, err
	}
	data, err := b.RPopLPush(ctx, key, InFlightKey(key, c.Identity()))
	if err := c.check(err); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	item := &Item{Data: data}
	v, err := c.codec.Decode(data)
	if err != nil {
		return item, err
	}
	item.Value = v
	return item, nil
}

// QueueAcknowledge removes one occurrence of value from this worker's
// in-flight list. It returns 1 if an entry was removed and 0 otherwise, so
// acknowledging twice is harmless.
func (c *Conn) QueueAcknowledge(ctx context.Context, key string, value any) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	data, err := c.encode(value)
	if err != nil {
		return 0, err
	}
	return c.ack(ctx, key, data)
}

// QueueAcknowledgeItem acknowledges a popped item by its stored bytes.
func (c *Conn) QueueAcknowledgeItem(ctx context.Context, key string, item *Item) (int64, error) {
	if item == nil {
		return 0, nil
	}
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	return c.ack(ctx, key, item.Data)
}

func (c *Conn) ack(ctx context.Context, key string, data []byte) (int64, error) {
	b, err := c.backend()
	if err != nil {
		return 0, err
	}
	n, err := b.LRem(ctx, InFlightKey(key, c.Identity()), 1, data)
	return n, c.check(err)
}

// QueueLength returns the number of items waiting in the queue.
func (c *Conn) QueueLength(ctx context.Context, key string) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	b, err := c.backend()
	if err != nil {
		return 0, err
	}
	n, err := b.LLen(ctx, key)
	return n, c.check(err)
}

// InFlightLength returns the number of items in this worker's in-flight list.
func (c *Conn) InFlightLength(ctx context.Context, key string) (int64, error) {
	if err := ValidateKey(key); err != nil {
		return 0, err
	}
	return c.QueueLength(ctx, InFlightKey(key, c.Identity()))
}
