package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager() (*InMemoryManager, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	manager := NewInMemoryManager()
	manager.now = clock.Now
	return manager, clock
}

func TestInMemoryManagerAcquireRelease(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	first, ok, err := manager.Acquire(ctx, "catalog-sync", "worker-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, got ok=%t err=%v", ok, err)
	}
	if first.Token == 0 {
		t.Fatalf("expected fencing token")
	}

	if _, ok, err := manager.Acquire(ctx, "catalog-sync", "worker-2", time.Minute); err != nil || ok {
		t.Fatalf("expected second acquire to fail while held, got ok=%t err=%v", ok, err)
	}

	if err := manager.Release(ctx, "catalog-sync", "worker-2", first.Token); err != nil {
		t.Fatalf("release by other owner: %v", err)
	}
	if _, ok, _ := manager.Acquire(ctx, "catalog-sync", "worker-2", time.Minute); ok {
		t.Fatalf("expected release by another owner to be ignored")
	}

	if err := manager.Release(ctx, "catalog-sync", "worker-1", first.Token); err != nil {
		t.Fatalf("release: %v", err)
	}
	third, ok, err := manager.Acquire(ctx, "catalog-sync", "worker-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release to succeed, got ok=%t err=%v", ok, err)
	}
	if third.Token <= first.Token {
		t.Fatalf("expected monotonic fencing token, got %d after %d", third.Token, first.Token)
	}
}

func TestInMemoryManagerLeaseExpires(t *testing.T) {
	manager, clock := newTestManager()
	ctx := context.Background()

	first, _, _ := manager.Acquire(ctx, "catalog-sync", "worker-1", time.Minute)
	clock.Advance(time.Minute)

	if _, ok, _ := manager.Renew(ctx, "catalog-sync", "worker-1", first.Token, time.Minute); ok {
		t.Fatalf("expected renew after expiry to fail")
	}
	if _, ok, _ := manager.Acquire(ctx, "catalog-sync", "worker-2", time.Minute); !ok {
		t.Fatalf("expected acquire after expiry to succeed")
	}
}

func TestInMemoryManagerRenewRequiresOwnerAndToken(t *testing.T) {
	manager, clock := newTestManager()
	ctx := context.Background()

	held, _, _ := manager.Acquire(ctx, "catalog-sync", "worker-1", time.Minute)
	clock.Advance(45 * time.Second)

	if _, ok, _ := manager.Renew(ctx, "catalog-sync", "worker-2", held.Token, time.Minute); ok {
		t.Fatalf("expected renew by another owner to fail")
	}
	renewed, ok, err := manager.Renew(ctx, "catalog-sync", "worker-1", held.Token, time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected renew to succeed, got ok=%t err=%v", ok, err)
	}
	if !renewed.ExpiresAt.After(held.ExpiresAt) {
		t.Fatalf("expected renewed expiry to extend the lease")
	}

	clock.Advance(45 * time.Second)
	if _, ok, _ := manager.Acquire(ctx, "catalog-sync", "worker-2", time.Minute); ok {
		t.Fatalf("expected renewed lease to still be held")
	}
}

func TestInMemoryManagerValidatesArguments(t *testing.T) {
	manager, _ := newTestManager()
	ctx := context.Background()

	if _, _, err := manager.Acquire(ctx, " ", "worker-1", time.Minute); !errors.Is(err, ErrResourceRequired) {
		t.Fatalf("expected ErrResourceRequired, got %v", err)
	}
	if _, _, err := manager.Acquire(ctx, "catalog-sync", "", time.Minute); !errors.Is(err, ErrOwnerRequired) {
		t.Fatalf("expected ErrOwnerRequired, got %v", err)
	}
	if err := manager.Release(ctx, "catalog-sync", "worker-1", 0); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected ErrTokenRequired, got %v", err)
	}
}

func TestHolderRenewsAndReacquires(t *testing.T) {
	manager, clock := newTestManager()
	ctx := context.Background()
	leader := NewHolder(manager, "catalog-sync", "worker-1")
	follower := NewHolder(manager, "catalog-sync", "worker-2")

	if ok, err := leader.Hold(ctx, time.Minute); err != nil || !ok {
		t.Fatalf("expected leader to hold, got ok=%t err=%v", ok, err)
	}
	if ok, _ := follower.Hold(ctx, time.Minute); ok {
		t.Fatalf("expected follower to be refused")
	}

	clock.Advance(40 * time.Second)
	if ok, _ := leader.Hold(ctx, time.Minute); !ok {
		t.Fatalf("expected leader to renew")
	}
	clock.Advance(40 * time.Second)
	if ok, _ := follower.Hold(ctx, time.Minute); ok {
		t.Fatalf("expected renewed lease to keep follower out")
	}

	if err := leader.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := leader.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if ok, _ := follower.Hold(ctx, time.Minute); !ok {
		t.Fatalf("expected follower to take over after release")
	}
	if ok, _ := leader.Hold(ctx, time.Minute); ok {
		t.Fatalf("expected former leader to be refused")
	}
}
