package store

import (
	"context"
	"sync"
	"testing"
	"time"

	crawlerr "github.com/vinayprograms/crawlkit/errors"
)

func memConn(t *testing.T) (*MemoryStore, Backend) {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	b, err := s.Dialer()(context.Background())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return s, b
}

func TestMemoryStore_SetNXExpiry(t *testing.T) {
	_, b := memConn(t)
	ctx := context.Background()

	ok, err := b.SetNX(ctx, "LEADER", []byte("w1"), 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("SetNX failed: %v %v", ok, err)
	}
	if ok, _ := b.SetNX(ctx, "LEADER", []byte("w2"), time.Minute); ok {
		t.Fatal("SetNX should fail while held")
	}

	time.Sleep(80 * time.Millisecond)

	if v, _ := b.Get(ctx, "LEADER"); v != nil {
		t.Fatalf("lease should have expired, got %q", v)
	}
	if ok, _ := b.SetNX(ctx, "LEADER", []byte("w2"), time.Minute); !ok {
		t.Fatal("SetNX should succeed after expiry")
	}
	if v, _ := b.Get(ctx, "LEADER"); string(v) != "w2" {
		t.Fatalf("owner = %q, want w2", v)
	}
}

func TestMemoryStore_CleanupRemovesExpired(t *testing.T) {
	s, b := memConn(t)
	ctx := context.Background()

	b.SetNX(ctx, "k", []byte("v"), 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	s.cleanupExpired()

	s.mu.Lock()
	_, present := s.strings["k"]
	s.mu.Unlock()
	if present {
		t.Error("expired entry should be removed by cleanup")
	}
}

func TestMemoryStore_LRem(t *testing.T) {
	tests := []struct {
		name    string
		count   int64
		want    []string
		removed int64
	}{
		{"from head", 1, []string{"b", "a", "a"}, 1},
		{"from tail", -1, []string{"a", "b", "a"}, 1},
		{"all", 0, []string{"b"}, 3},
		{"more than present", 5, []string{"b"}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b := memConn(t)
			ctx := context.Background()

			// List head to tail: a b a a
			s.mu.Lock()
			s.lists["L"] = [][]byte{[]byte("a"), []byte("b"), []byte("a"), []byte("a")}
			s.mu.Unlock()

			n, err := b.LRem(ctx, "L", tt.count, []byte("a"))
			if err != nil {
				t.Fatalf("LRem failed: %v", err)
			}
			if n != tt.removed {
				t.Errorf("removed %d, want %d", n, tt.removed)
			}

			s.mu.Lock()
			got := s.lists["L"]
			s.mu.Unlock()
			if len(got) != len(tt.want) {
				t.Fatalf("list = %q, want %q", got, tt.want)
			}
			for i := range got {
				if string(got[i]) != tt.want[i] {
					t.Fatalf("list = %q, want %q", got, tt.want)
				}
			}
		})
	}
}

func TestMemoryStore_RPopLPushMovesTail(t *testing.T) {
	_, b := memConn(t)
	ctx := context.Background()

	b.LPush(ctx, "Q", []byte("1"), []byte("2"), []byte("3"))

	v, err := b.RPopLPush(ctx, "Q", "Q_w1")
	if err != nil || string(v) != "1" {
		t.Fatalf("RPopLPush = %q %v, want 1", v, err)
	}
	if n, _ := b.LLen(ctx, "Q"); n != 2 {
		t.Errorf("source length = %d, want 2", n)
	}
	if n, _ := b.LLen(ctx, "Q_w1"); n != 1 {
		t.Errorf("destination length = %d, want 1", n)
	}
}

func TestMemoryStore_ValuesAreCopied(t *testing.T) {
	_, b := memConn(t)
	ctx := context.Background()

	buf := []byte("abc")
	b.LPush(ctx, "Q", buf)
	buf[0] = 'z'

	v, _ := b.RPopLPush(ctx, "Q", "D")
	if string(v) != "abc" {
		t.Fatalf("stored value was aliased: %q", v)
	}
}

func TestMemoryStore_Unavailable(t *testing.T) {
	s, b := memConn(t)
	ctx := context.Background()

	s.SetUnavailable(true)
	if _, err := b.LLen(ctx, "Q"); !crawlerr.IsConnection(err) {
		t.Fatalf("expected CONNECTION error, got %v", err)
	}
	if _, err := s.Dialer()(ctx); !crawlerr.IsConnection(err) {
		t.Fatalf("expected dial to fail, got %v", err)
	}

	s.SetUnavailable(false)
	if _, err := b.LLen(ctx, "Q"); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}

func TestMemoryStore_ClosedConnection(t *testing.T) {
	s, b := memConn(t)
	b.Close()
	if _, err := b.Get(context.Background(), "k"); !crawlerr.IsConnection(err) {
		t.Fatalf("expected CONNECTION error on closed conn, got %v", err)
	}

	s.Close()
	if _, err := s.Dialer()(context.Background()); !crawlerr.IsConnection(err) {
		t.Fatalf("expected CONNECTION error on closed store, got %v", err)
	}
}

func TestMemoryStore_CloseWhileWaitingForLock(t *testing.T) {
	s, b := memConn(t)
	ctx := context.Background()

	// Hold the store lock so the write passes its first check and then waits.
	s.mu.Lock()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := b.LPush(ctx, "Q", []byte("x"))
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := b.SAdd(ctx, "S", []byte("x"))
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	time.Sleep(20 * time.Millisecond)
	s.mu.Unlock()

	wg.Wait()
	<-closed
	close(errs)
	for err := range errs {
		if err != nil && !crawlerr.IsConnection(err) {
			t.Errorf("expected nil or CONNECTION error, got %v", err)
		}
	}
	if _, err := b.LLen(ctx, "Q"); !crawlerr.IsConnection(err) {
		t.Errorf("expected CONNECTION error after Close, got %v", err)
	}
}
