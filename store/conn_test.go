package store

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/vinayprograms/crawlkit/codec"
	crawlerr "github.com/vinayprograms/crawlkit/errors"
)

// backends returns a dialer per backend implementation. Every dialer of one
// call talks to the same data.
func backends(t *testing.T) map[string]Dialer {
	t.Helper()

	mem := NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("bad miniredis port: %v", err)
	}

	return map[string]Dialer{
		"memory": mem.Dialer(),
		"redis":  RedisDialer(RedisConfig{Host: mr.Host(), Port: port}),
	}
}

func acquire(t *testing.T, dial Dialer, identity string) *Conn {
	t.Helper()
	m, err := NewManager(dial, identity)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	t.Cleanup(func() {
		c.Release()
		m.Close()
	})
	return c
}

// ============================================================================
// LEVEL 1: Lease, set and queue primitives
// ============================================================================

func TestConn_LeaseRace(t *testing.T) {
	for name, dial := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 8

			conns := make([]*Conn, workers)
			for i := range conns {
				conns[i] = acquire(t, dial, fmt.Sprintf("worker-%d", i))
			}

			var wins atomic.Int32
			var wg sync.WaitGroup
			for i, c := range conns {
				wg.Add(1)
				go func(i int, c *Conn) {
					defer wg.Done()
					ok, err := c.AcquireLease(ctx, "LEADER", fmt.Sprintf("worker-%d", i), time.Minute)
					if err != nil {
						t.Errorf("AcquireLease failed: %v", err)
						return
					}
					if ok {
						wins.Add(1)
					}
				}(i, c)
			}
			wg.Wait()

			if wins.Load() != 1 {
				t.Fatalf("expected exactly one winner, got %d", wins.Load())
			}

			first, err := conns[0].LeaseOwner(ctx, "LEADER")
			if err != nil || first == nil {
				t.Fatalf("LeaseOwner failed: %v %v", first, err)
			}
			leaders := 0
			for i, c := range conns {
				owner, err := c.LeaseOwner(ctx, "LEADER")
				if err != nil {
					t.Fatalf("LeaseOwner failed: %v", err)
				}
				if string(owner) != string(first) {
					t.Errorf("worker %d sees owner %q, want %q", i, owner, first)
				}
				leader, err := c.IsLeader(ctx, "LEADER", fmt.Sprintf("worker-%d", i))
				if err != nil {
					t.Fatalf("IsLeader failed: %v", err)
				}
				if leader {
					leaders++
				}
			}
			if leaders != 1 {
				t.Errorf("expected one leader, got %d", leaders)
			}
		})
	}
}

func TestConn_LeaseHeldIsNoop(t *testing.T) {
	for name, dial := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := acquire(t, dial, "w1")

			ok, err := c.AcquireLease(ctx, "LEADER", "w1", time.Minute)
			if err != nil || !ok {
				t.Fatalf("first AcquireLease: %v %v", ok, err)
			}
			ok, err = c.AcquireLease(ctx, "LEADER", "w1", time.Minute)
			if err != nil || ok {
				t.Fatalf("second AcquireLease should not re-establish: %v %v", ok, err)
			}
			ok, err = c.AcquireLease(ctx, "LEADER", "w2", time.Minute)
			if err != nil || ok {
				t.Fatalf("other owner should fail: %v %v", ok, err)
			}
			owner, _ := c.LeaseOwner(ctx, "LEADER")
			if string(owner) != "w1" {
				t.Errorf("owner = %q", owner)
			}
		})
	}
}

func TestConn_LeaseInvalidArgs(t *testing.T) {
	c := acquire(t, NewMemoryStore().Dialer(), "w1")
	ctx := context.Background()

	if _, err := c.AcquireLease(ctx, "LEADER", "w1", 0); err != ErrInvalidTTL {
		t.Errorf("expected ErrInvalidTTL, got %v", err)
	}
	if _, err := c.AcquireLease(ctx, "", "w1", time.Second); err != ErrInvalidKey {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestConn_LeaseOwnerAbsent(t *testing.T) {
	c := acquire(t, NewMemoryStore().Dialer(), "w1")
	owner, err := c.LeaseOwner(context.Background(), "LEADER")
	if err != nil || owner != nil {
		t.Fatalf("expected no owner, got %q %v", owner, err)
	}
	leader, err := c.IsLeader(context.Background(), "LEADER", "w1")
	if err != nil || leader {
		t.Fatalf("expected not leader, got %v %v", leader, err)
	}
}

func TestConn_SetSemantics(t *testing.T) {
	for name, dial := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := acquire(t, dial, "w1")

			if err := c.SetAdd(ctx, "S", "x"); err != nil {
				t.Fatalf("SetAdd failed: %v", err)
			}
			got, err := c.SetPickRandom(ctx, "S")
			if err != nil {
				t.Fatalf("SetPickRandom failed: %v", err)
			}
			if got != "x" {
				t.Errorf("SetPickRandom = %v, want x", got)
			}

			if err := c.SetAdd(ctx, "S", "x"); err != nil {
				t.Fatalf("SetAdd failed: %v", err)
			}
			if n, err := c.SetCount(ctx, "S"); err != nil || n != 1 {
				t.Fatalf("SetCount = %d %v, want 1", n, err)
			}

			if n, err := c.SetRemove(ctx, "S", "x"); err != nil || n != 1 {
				t.Fatalf("SetRemove = %d %v, want 1", n, err)
			}
			if n, err := c.SetRemove(ctx, "S", "x"); err != nil || n != 0 {
				t.Fatalf("second SetRemove = %d %v, want 0", n, err)
			}
			got, err = c.SetPickRandom(ctx, "S")
			if err != nil || got != nil {
				t.Fatalf("empty set pick = %v %v", got, err)
			}
		})
	}
}

func TestConn_SetAddStructured(t *testing.T) {
	ctx := context.Background()
	c := acquire(t, NewMemoryStore().Dialer(), "w1")

	a := map[string]any{"addr": "1.2.3.4:80", "https": true}
	b := map[string]any{"https": true, "addr": "1.2.3.4:80"}
	if err := c.SetAdd(ctx, "POOL", a, b); err != nil {
		t.Fatalf("SetAdd failed: %v", err)
	}
	if n, _ := c.SetCount(ctx, "POOL"); n != 1 {
		t.Errorf("equal maps should dedupe, count = %d", n)
	}
}

func TestConn_SetAddNoValues(t *testing.T) {
	c := acquire(t, NewMemoryStore().Dialer(), "w1")
	err := c.SetAdd(context.Background(), "S")
	if !crawlerr.Is(err, crawlerr.ErrCodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
	if err := c.QueuePush(context.Background(), "Q"); err == nil {
		t.Fatal("QueuePush without values should fail")
	}
}

func TestConn_ReliableQueueRoundTrip(t *testing.T) {
	for name, dial := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := acquire(t, dial, "w1")

			if err := c.QueuePush(ctx, "Q", "A"); err != nil {
				t.Fatalf("QueuePush failed: %v", err)
			}
			got, err := c.QueueReliablePop(ctx, "Q")
			if err != nil {
				t.Fatalf("QueueReliablePop failed: %v", err)
			}
			if got != "A" {
				t.Fatalf("popped %v, want A", got)
			}

			if n, _ := c.QueueLength(ctx, "Q"); n != 0 {
				t.Errorf("queue length = %d, want 0", n)
			}
			if n, _ := c.InFlightLength(ctx, "Q"); n != 1 {
				t.Errorf("in-flight length = %d, want 1", n)
			}

			if n, err := c.QueueAcknowledge(ctx, "Q", "A"); err != nil || n != 1 {
				t.Fatalf("first ack = %d %v, want 1", n, err)
			}
			if n, err := c.QueueAcknowledge(ctx, "Q", "A"); err != nil || n != 0 {
				t.Fatalf("second ack = %d %v, want 0", n, err)
			}
			if n, _ := c.InFlightLength(ctx, "Q"); n != 0 {
				t.Errorf("in-flight length = %d, want 0", n)
			}
		})
	}
}

func TestConn_FIFO(t *testing.T) {
	for name, dial := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := acquire(t, dial, "w1")

			c.QueuePush(ctx, "Q", "task1")
			c.QueuePush(ctx, "Q", "task2")

			first, _ := c.QueueReliablePop(ctx, "Q")
			second, _ := c.QueueReliablePop(ctx, "Q")
			if first != "task1" || second != "task2" {
				t.Fatalf("got %v then %v, want task1 then task2", first, second)
			}
		})
	}
}

func TestConn_EmptyQueue(t *testing.T) {
	for name, dial := range backends(t) {
		t.Run(name, func(t *testing.T) {
			c := acquire(t, dial, "w1")
			got, err := c.QueueReliablePop(context.Background(), "absent")
			if err != nil || got != nil {
				t.Fatalf("expected nil from empty queue, got %v %v", got, err)
			}
			item, err := c.QueueReliablePopItem(context.Background(), "absent")
			if err != nil || item != nil {
				t.Fatalf("expected nil item, got %v %v", item, err)
			}
		})
	}
}

func TestConn_InFlightIsPrivate(t *testing.T) {
	for name, dial := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			w1 := acquire(t, dial, "w1")
			w2 := acquire(t, dial, "w2")

			w1.QueuePush(ctx, "Q", "A")
			if v, _ := w1.QueueReliablePop(ctx, "Q"); v != "A" {
				t.Fatalf("w1 popped %v", v)
			}
			if v, _ := w2.QueueReliablePop(ctx, "Q"); v != nil {
				t.Fatalf("w2 should see an empty queue, got %v", v)
			}
			if n, _ := w2.QueueAcknowledge(ctx, "Q", "A"); n != 0 {
				t.Fatalf("w2 acked w1's item")
			}
			if n, _ := w1.QueueAcknowledge(ctx, "Q", "A"); n != 1 {
				t.Fatalf("w1 could not ack its own item")
			}
		})
	}
}

func TestConn_ConcurrentPopsNeverDuplicate(t *testing.T) {
	for name, dial := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const items, workers = 50, 5

			producer := acquire(t, dial, "producer")
			for i := 0; i < items; i++ {
				producer.QueuePush(ctx, "Q", int64(i))
			}

			var mu sync.Mutex
			seen := make(map[int64]int)
			var wg sync.WaitGroup
			for w := 0; w < workers; w++ {
				c := acquire(t, dial, fmt.Sprintf("w%d", w))
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						v, err := c.QueueReliablePop(ctx, "Q")
						if err != nil {
							t.Errorf("pop failed: %v", err)
							return
						}
						if v == nil {
							return
						}
						mu.Lock()
						seen[v.(int64)]++
						mu.Unlock()
						c.QueueAcknowledge(ctx, "Q", v)
					}
				}()
			}
			wg.Wait()

			if len(seen) != items {
				t.Fatalf("saw %d distinct items, want %d", len(seen), items)
			}
			for v, n := range seen {
				if n != 1 {
					t.Errorf("item %d popped %d times", v, n)
				}
			}
		})
	}
}

func TestConn_AcknowledgeItem(t *testing.T) {
	ctx := context.Background()
	c := acquire(t, NewMemoryStore().Dialer(), "w1")

	task := map[string]any{"task": "refresh", "scheduled_time": 1.5}
	c.QueuePush(ctx, "Q", task)

	item, err := c.QueueReliablePopItem(ctx, "Q")
	if err != nil || item == nil {
		t.Fatalf("pop failed: %v %v", item, err)
	}
	m, ok := item.Value.(map[string]any)
	if !ok || m["task"] != "refresh" {
		t.Fatalf("unexpected value %#v", item.Value)
	}
	if n, err := c.QueueAcknowledgeItem(ctx, "Q", item); err != nil || n != 1 {
		t.Fatalf("ack = %d %v", n, err)
	}
	if n, _ := c.QueueAcknowledgeItem(ctx, "Q", nil); n != 0 {
		t.Fatal("nil item ack should be 0")
	}
}

func TestConn_UndecodableItemStaysAckable(t *testing.T) {
	ctx := context.Background()
	c := acquire(t, NewMemoryStore().Dialer(), "w1")

	c.QueuePush(ctx, "Q", codec.Raw{0xc1})

	item, err := c.QueueReliablePopItem(ctx, "Q")
	if !crawlerr.Is(err, crawlerr.ErrCodeCodec) {
		t.Fatalf("expected CODEC error, got %v", err)
	}
	if item == nil || len(item.Data) != 1 {
		t.Fatalf("expected raw item data, got %v", item)
	}
	if n, _ := c.QueueAcknowledgeItem(ctx, "Q", item); n != 1 {
		t.Fatal("raw item should be acknowledged")
	}
}

func TestConn_WithCodec(t *testing.T) {
	ctx := context.Background()
	c := acquire(t, NewMemoryStore().Dialer(), "w1")

	plain := c.WithCodec(codec.Plain)
	if plain.Codec().Name() != codec.NamePlain {
		t.Fatalf("codec = %s", plain.Codec().Name())
	}
	plain.QueuePush(ctx, "Q", "hello")
	v, err := plain.QueueReliablePop(ctx, "Q")
	if err != nil {
		t.Fatalf("pop failed: %v", err)
	}
	if b, ok := v.([]byte); !ok || string(b) != "hello" {
		t.Fatalf("expected raw bytes, got %#v", v)
	}

	c.Release()
	if _, err := plain.QueueLength(ctx, "Q"); err != ErrScopeEnded {
		t.Fatalf("derived conn should share the scope, got %v", err)
	}
}

// ============================================================================
// LEVEL 2: Connection failures
// ============================================================================

func TestConn_RedisConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	dial := RedisDialer(RedisConfig{Host: mr.Host(), Port: port, DialTimeout: time.Second})

	m, err := NewManager(dial, "w1")
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	defer m.Close()

	c, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	mr.Close()

	_, err = c.QueueLength(context.Background(), "Q")
	c.Release()
	if !crawlerr.IsConnection(err) {
		t.Fatalf("expected CONNECTION error, got %v", err)
	}

	if _, err := m.Acquire(context.Background()); !crawlerr.IsConnection(err) {
		t.Fatalf("expected CONNECTION error on re-dial, got %v", err)
	}
}
