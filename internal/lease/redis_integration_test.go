package lease

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisManagerRenewExtendsLeaseWhenOwnerMatches(t *testing.T) {
	client := newRedisTestClient(t)
	ctx := context.Background()
	manager := NewRedisManager(client, "lendflow:test:"+uuid.NewString())

	initial, ok, err := manager.Acquire(ctx, "catalog-sync", "worker-1", 180*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed, got ok=%t err=%v", ok, err)
	}

	time.Sleep(90 * time.Millisecond)
	renewed, ok, err := manager.Renew(ctx, "catalog-sync", "worker-1", initial.Token, 260*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected renew to succeed, got ok=%t err=%v", ok, err)
	}
	if !renewed.ExpiresAt.After(initial.ExpiresAt) {
		t.Fatalf("expected renewed expiry to extend beyond initial expiry")
	}

	time.Sleep(140 * time.Millisecond)
	if _, ok, err := manager.Acquire(ctx, "catalog-sync", "worker-2", 120*time.Millisecond); err != nil || ok {
		t.Fatalf("expected lease to remain held after renew, got ok=%t err=%v", ok, err)
	}
}

func TestRedisManagerRejectsOtherOwners(t *testing.T) {
	client := newRedisTestClient(t)
	ctx := context.Background()
	manager := NewRedisManager(client, "lendflow:test:"+uuid.NewString())

	initial, ok, err := manager.Acquire(ctx, "catalog-sync", "worker-1", 300*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected acquire to succeed, got ok=%t err=%v", ok, err)
	}
	if _, ok, err := manager.Renew(ctx, "catalog-sync", "worker-2", initial.Token, 300*time.Millisecond); err != nil || ok {
		t.Fatalf("expected renew by another owner to fail, got ok=%t err=%v", ok, err)
	}
	if err := manager.Release(ctx, "catalog-sync", "worker-2", initial.Token); err != nil {
		t.Fatalf("release by another owner: %v", err)
	}
	if _, ok, _ := manager.Acquire(ctx, "catalog-sync", "worker-2", 300*time.Millisecond); ok {
		t.Fatalf("expected release by another owner to be ignored")
	}

	if err := manager.Release(ctx, "catalog-sync", "worker-1", initial.Token); err != nil {
		t.Fatalf("release: %v", err)
	}
	next, ok, err := manager.Acquire(ctx, "catalog-sync", "worker-2", 300*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("expected acquire after release, got ok=%t err=%v", ok, err)
	}
	if next.Token <= initial.Token {
		t.Fatalf("expected monotonic fencing token")
	}
}

func newRedisTestClient(t *testing.T) *redis.Client {
	t.Helper()

	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis integration tests")
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   15,
	})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at TEST_REDIS_ADDR=%s: %v", addr, err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
