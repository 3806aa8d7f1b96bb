package store

import (
	"context"
	"errors"
	"testing"
	"time"

	crawlerr "github.com/vinayprograms/crawlkit/errors"
)

// ============================================================================
// LEVEL 1: Construction
// ============================================================================

func TestNewManager_RequiresIdentity(t *testing.T) {
	if _, err := NewManager(NewMemoryStore().Dialer(), ""); err != ErrNoIdentity {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if _, err := NewManager(nil, "w1"); err == nil {
		t.Fatal("expected error for nil dialer")
	}
}

func TestManager_LazyConnect(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()

	m, _ := NewManager(mem.Dialer(), "w1")
	defer m.Close()

	if m.Connected() || mem.Dials() != 0 {
		t.Fatal("manager should not connect before first scope")
	}
	if m.Identity() != "w1" {
		t.Errorf("Identity() = %q", m.Identity())
	}

	err := m.Do(context.Background(), func(c *Conn) error {
		if !m.Connected() {
			t.Error("expected connection inside scope")
		}
		if c.Identity() != "w1" {
			t.Errorf("Conn.Identity() = %q", c.Identity())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if m.Connected() {
		t.Error("connection should be closed when the scope ends")
	}
}

// ============================================================================
// LEVEL 2: Scope lifetime
// ============================================================================

func TestManager_NestedScopesShareConnection(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()
	m, _ := NewManager(mem.Dialer(), "w1")
	defer m.Close()

	ctx := context.Background()
	outer, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	inner, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if mem.Dials() != 1 {
		t.Fatalf("expected one dial, got %d", mem.Dials())
	}

	inner.Release()
	inner.Release()
	if !m.Connected() {
		t.Fatal("outer scope should keep the connection open")
	}
	if _, err := inner.QueueLength(ctx, "Q"); err != ErrScopeEnded {
		t.Errorf("expected ErrScopeEnded, got %v", err)
	}
	if _, err := outer.QueueLength(ctx, "Q"); err != nil {
		t.Errorf("outer scope should still work: %v", err)
	}

	outer.Release()
	if m.Connected() {
		t.Error("connection should close after the last scope")
	}
}

func TestManager_DoReleasesOnError(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()
	m, _ := NewManager(mem.Dialer(), "w1")
	defer m.Close()

	boom := errors.New("boom")
	var leaked *Conn
	err := m.Do(context.Background(), func(c *Conn) error {
		leaked = c
		return boom
	})
	if err != boom {
		t.Fatalf("expected boom, got %v", err)
	}
	if m.Connected() {
		t.Error("scope should be released on error")
	}
	if _, err := leaked.SetCount(context.Background(), "S"); err != ErrScopeEnded {
		t.Errorf("expected ErrScopeEnded, got %v", err)
	}
}

func TestManager_DoReleasesOnPanic(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()
	m, _ := NewManager(mem.Dialer(), "w1")
	defer m.Close()

	func() {
		defer func() { recover() }()
		m.Do(context.Background(), func(c *Conn) error {
			panic("boom")
		})
	}()

	if m.Connected() {
		t.Error("scope should be released on panic")
	}
}

func TestManager_ReconnectsAfterFailure(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()
	m, _ := NewManager(mem.Dialer(), "w1")
	defer m.Close()

	ctx := context.Background()
	c, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	// A second scope keeps the handle alive so only the broken flag can retire it.
	keep, _ := m.Acquire(ctx)

	mem.SetUnavailable(true)
	if _, err := c.QueueLength(ctx, "Q"); !crawlerr.IsConnection(err) {
		t.Fatalf("expected CONNECTION error, got %v", err)
	}
	c.Release()

	if _, err := m.Acquire(ctx); !crawlerr.IsConnection(err) {
		t.Fatalf("expected dial to fail while unavailable, got %v", err)
	}

	mem.SetUnavailable(false)
	dialsBefore := mem.Dials()
	c2, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after recovery failed: %v", err)
	}
	defer c2.Release()
	if mem.Dials() != dialsBefore+1 {
		t.Errorf("expected a fresh dial, dials %d -> %d", dialsBefore, mem.Dials())
	}
	if _, err := c2.QueueLength(ctx, "Q"); err != nil {
		t.Errorf("new scope should work: %v", err)
	}
	keep.Release()
}

func TestManager_CanceledContext(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()
	m, _ := NewManager(mem.Dialer(), "w1")
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Acquire(ctx)
	if !crawlerr.IsCanceled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestManager_Close(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()
	m, _ := NewManager(mem.Dialer(), "w1")

	c, _ := m.Acquire(context.Background())
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	c.Release()
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if _, err := m.Acquire(context.Background()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// ============================================================================
// LEVEL 3: Acquire hooks
// ============================================================================

func TestManager_HooksRunOnEveryScope(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()

	calls := 0
	hook := func(ctx context.Context, c *Conn) error {
		calls++
		_, err := c.AcquireLease(ctx, "LEADER", c.Identity(), time.Minute)
		return err
	}
	m, _ := NewManager(mem.Dialer(), "w1", WithAcquireHook(hook), WithAcquireHook(nil))
	defer m.Close()

	for i := 0; i < 3; i++ {
		if err := m.Do(context.Background(), func(*Conn) error { return nil }); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
	}
	if calls != 3 {
		t.Errorf("hook ran %d times, want 3", calls)
	}

	m.Do(context.Background(), func(c *Conn) error {
		owner, _ := c.LeaseOwner(context.Background(), "LEADER")
		if string(owner) != "w1" {
			t.Errorf("owner = %q", owner)
		}
		return nil
	})
}

func TestManager_HookFailureReleasesScope(t *testing.T) {
	mem := NewMemoryStore()
	defer mem.Close()

	boom := errors.New("boom")
	m, _ := NewManager(mem.Dialer(), "w1", WithAcquireHook(func(context.Context, *Conn) error {
		return boom
	}))
	defer m.Close()

	if _, err := m.Acquire(context.Background()); err != boom {
		t.Fatalf("expected hook error, got %v", err)
	}
	if m.Connected() {
		t.Error("failed acquisition must not hold the connection")
	}
}
