package lease

import (
	"context"
	"sync"
	"time"
)

type inMemoryEntry struct {
	owner     string
	token     uint64
	expiresAt time.Time
}

// InMemoryManager elects within one process.
type InMemoryManager struct {
	mu      sync.Mutex
	seq     uint64
	entries map[string]inMemoryEntry
	now     func() time.Time
}

func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{
		entries: make(map[string]inMemoryEntry),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *InMemoryManager) Acquire(_ context.Context, resource, owner string, ttl time.Duration) (Lease, bool, error) {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return Lease{}, false, err
	}
	ttl = normalizeTTL(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.entries[resource]; ok && now.Before(existing.expiresAt) {
		return Lease{}, false, nil
	}

	m.seq++
	granted := Lease{Token: m.seq, ExpiresAt: now.Add(ttl)}
	m.entries[resource] = inMemoryEntry{owner: owner, token: granted.Token, expiresAt: granted.ExpiresAt}
	return granted, true, nil
}

func (m *InMemoryManager) Renew(_ context.Context, resource, owner string, token uint64, ttl time.Duration) (Lease, bool, error) {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return Lease{}, false, err
	}
	if token == 0 {
		return Lease{}, false, ErrTokenRequired
	}
	ttl = normalizeTTL(ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	existing, ok := m.entries[resource]
	if !ok {
		return Lease{}, false, nil
	}
	if !now.Before(existing.expiresAt) {
		delete(m.entries, resource)
		return Lease{}, false, nil
	}
	if existing.owner != owner || existing.token != token {
		return Lease{}, false, nil
	}

	existing.expiresAt = now.Add(ttl)
	m.entries[resource] = existing
	return Lease{Token: token, ExpiresAt: existing.expiresAt}, true, nil
}

func (m *InMemoryManager) Release(_ context.Context, resource, owner string, token uint64) error {
	resource, owner, err := normalize(resource, owner)
	if err != nil {
		return err
	}
	if token == 0 {
		return ErrTokenRequired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[resource]; ok && existing.owner == owner && existing.token == token {
		delete(m.entries, resource)
	}
	return nil
}
