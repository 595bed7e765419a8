package lease

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisManager elects across every process sharing the Redis instance. The
// hold key stores owner|token and expires with the lease.
type RedisManager struct {
	client redis.Cmdable
	prefix string
}

func NewRedisManager(client redis.Cmdable, prefix string) *RedisManager {
	normalized := strings.TrimSpace(prefix)
	if normalized == "" {
		normalized = "lendflow:lease"
	}
	return &RedisManager{client: client, prefix: normalized}
}

func (m *RedisManager) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (Lease, bool, error) {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return Lease{}, false, err
	}
	ttl = normalizeTTL(ttl)

	token, err := m.client.Incr(ctx, m.seqKey(resource)).Uint64()
	if err != nil {
		return Lease{}, false, fmt.Errorf("lease incr token: %w", err)
	}
	acquired, err := m.client.SetNX(ctx, m.holdKey(resource), holdValue(owner, token), ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("lease setnx: %w", err)
	}
	if !acquired {
		return Lease{}, false, nil
	}
	return Lease{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)}, true, nil
}

func (m *RedisManager) Renew(ctx context.Context, resource, owner string, token uint64, ttl time.Duration) (Lease, bool, error) {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return Lease{}, false, err
	}
	if token == 0 {
		return Lease{}, false, ErrTokenRequired
	}
	ttl = normalizeTTL(ttl)

	renewed, err := renewScript.Run(ctx, m.client, []string{m.holdKey(resource)}, holdValue(owner, token), ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Lease{}, false, fmt.Errorf("lease renew: %w", err)
	}
	if renewed == 0 {
		return Lease{}, false, nil
	}
	return Lease{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)}, true, nil
}

func (m *RedisManager) Release(ctx context.Context, resource, owner string, token uint64) error {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return err
	}
	if token == 0 {
		return ErrTokenRequired
	}

	_, err = releaseScript.Run(ctx, m.client, []string{m.holdKey(resource)}, holdValue(owner, token)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lease release: %w", err)
	}
	return nil
}

func (m *RedisManager) holdKey(resource string) string {
	return m.prefix + ":hold:" + resource
}

func (m *RedisManager) seqKey(resource string) string {
	return m.prefix + ":seq:" + resource
}

func holdValue(owner string, token uint64) string {
	return fmt.Sprintf("%s|%d", owner, token)
}

// Both scripts act only when the hold key still carries the caller's
// owner|token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
