package subscription

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and ephemeral setups.
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]Subscription
}

func NewMemoryStore(subs ...Subscription) *MemoryStore {
	m := &MemoryStore{subs: make(map[string]Subscription, len(subs))}
	for _, s := range subs {
		m.subs[s.EndpointID] = s
	}
	return m
}

func (m *MemoryStore) List(ctx context.Context) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, sub Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.EndpointID] = sub
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, endpointID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, endpointID)
	return nil
}
