// Package lease elects a single holder for a named resource across processes
// that share a backend. Tokens increase on every grant so a stale holder can
// be told apart from the current one.
package lease

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const defaultTTL = 90 * time.Second

var (
	ErrResourceRequired = errors.New("resource is required")
	ErrOwnerRequired    = errors.New("owner is required")
	ErrTokenRequired    = errors.New("token is required")
)

type Lease struct {
	Token     uint64
	ExpiresAt time.Time
}

type Manager interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (Lease, bool, error)
	Renew(ctx context.Context, resource, owner string, token uint64, ttl time.Duration) (Lease, bool, error)
	Release(ctx context.Context, resource, owner string, token uint64) error
}

// Holder tracks one owner's claim on one resource, renewing it while held
// and re-acquiring it once lost.
type Holder struct {
	manager  Manager
	resource string
	owner    string

	mu   sync.Mutex
	held Lease
}

func NewHolder(manager Manager, resource, owner string) *Holder {
	return &Holder{
		manager:  manager,
		resource: strings.TrimSpace(resource),
		owner:    strings.TrimSpace(owner),
	}
}

// Hold reports whether this owner holds the resource for at least ttl from
// now.
func (h *Holder) Hold(ctx context.Context, ttl time.Duration) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.held.Token != 0 {
		renewed, ok, err := h.manager.Renew(ctx, h.resource, h.owner, h.held.Token, ttl)
		if err != nil {
			return false, err
		}
		if ok {
			h.held = renewed
			return true, nil
		}
		h.held = Lease{}
	}

	acquired, ok, err := h.manager.Acquire(ctx, h.resource, h.owner, ttl)
	if err != nil || !ok {
		return false, err
	}
	h.held = acquired
	return true, nil
}

// Release gives the resource up if held. It is safe to call when not held.
func (h *Holder) Release(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held.Token == 0 {
		return nil
	}
	token := h.held.Token
	h.held = Lease{}
	return h.manager.Release(ctx, h.resource, h.owner, token)
}

func normalize(resource, owner string) (string, string, error) {
	resource = strings.TrimSpace(resource)
	owner = strings.TrimSpace(owner)
	if resource == "" {
		return "", "", ErrResourceRequired
	}
	if owner == "" {
		return "", "", ErrOwnerRequired
	}
	return resource, owner, nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}
