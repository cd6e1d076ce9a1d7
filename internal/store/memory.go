package store

import (
	"context"
	"sort"
	"sync"

	"github.com/paulmach/orb"
)

// Memory is a Store held in process memory.
type Memory struct {
	mu     sync.RWMutex
	parcel map[string]SavedParcel
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{parcel: make(map[string]SavedParcel)}
}

func (m *Memory) Save(ctx context.Context, p SavedParcel) error {
	p.Geometry = orb.Clone(p.Geometry)

	m.mu.Lock()
	m.parcel[p.ID] = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (SavedParcel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.parcel[id]
	if !ok {
		return SavedParcel{}, ErrNotFound
	}
	p.Geometry = orb.Clone(p.Geometry)
	return p, nil
}

func (m *Memory) List(ctx context.Context, farmID string, offset, limit int) ([]SavedParcel, int, error) {
	offset, limit = clampPage(offset, limit)

	m.mu.RLock()
	var all []SavedParcel
	for _, p := range m.parcel {
		if farmID == "" || p.FarmID == farmID {
			all = append(all, p)
		}
	}
	m.mu.RUnlock()

	// ULIDs sort by creation time.
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	if offset >= total {
		return []SavedParcel{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *Memory) Close() error { return nil }
