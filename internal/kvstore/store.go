// Package kvstore is the durable key-value contract shared by the submission
// coalescer and the catalog sync engine, with in-memory, SQLite, Redis and
// Postgres backends.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrKeyRequired = errors.New("key is required")

// Store is an asynchronous, origin-scoped key-value store. Values are opaque
// bytes; callers that need structure go through GetJSON and SetJSON.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// GetJSON loads key and decodes it into out. A missing key reports false
// without touching out.
func GetJSON(ctx context.Context, store Store, key string, out any) (bool, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, store Store, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return store.Set(ctx, key, raw)
}

// Join builds a namespaced key from its parts.
func Join(parts ...string) string {
	return strings.Join(parts, ":")
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrKeyRequired
	}
	return key, nil
}
