package ledger

import (
	"context"
	"sync"
	"time"
)

type pairKey struct {
	item, endpoint string
	status         Status
}

// Memory is an in-memory Ledger for tests and ephemeral setups. The mutexed
// check-and-insert below is the compare-and-swap equivalent of the SQLite
// unique constraint.
type Memory struct {
	mu   sync.Mutex
	recs map[pairKey]Record

	// Fail, when set, makes every call return ErrUnavailable. Tests use it
	// to exercise fail-closed behavior.
	Fail bool
}

func NewMemory() *Memory {
	return &Memory{recs: make(map[pairKey]Record)}
}

func (m *Memory) Delivered(ctx context.Context, itemID, endpointID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return false, ErrUnavailable
	}
	_, ok := m.recs[pairKey{itemID, endpointID, StatusDelivered}]
	return ok, nil
}

func (m *Memory) InsertIfAbsent(ctx context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return false, ErrUnavailable
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	k := pairKey{rec.ItemID, rec.EndpointID, rec.Status}
	if _, ok := m.recs[k]; ok {
		return false, nil
	}
	m.recs[k] = rec
	return true, nil
}

func (m *Memory) ByItem(ctx context.Context, itemID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, ErrUnavailable
	}
	var out []Record
	for k, r := range m.recs {
		if k.item == itemID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return 0, ErrUnavailable
	}
	var n int64
	for k, r := range m.recs {
		if r.RecordedAt.Before(cutoff) {
			delete(m.recs, k)
			n++
		}
	}
	return n, nil
}

// Count reports the number of records with the given status. Test helper.
func (m *Memory) Count(status Status) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for k := range m.recs {
		if k.status == status {
			n++
		}
	}
	return n
}
