package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Memory is a map-backed RegionStore. Callers always get copies.
type Memory struct {
	mu      sync.RWMutex
	regions map[int64]domain.Region
	nextID  int64
}

func NewMemory() *Memory {
	return &Memory{regions: make(map[int64]domain.Region)}
}

func (m *Memory) Get(_ context.Context, id int64) (*domain.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.regions[id]
	if !ok {
		return nil, fmt.Errorf("get region %d: %w", id, ErrNotFound)
	}
	return clone(r), nil
}

func (m *Memory) List(_ context.Context) ([]*domain.Region, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.regions))
	for id := range m.regions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*domain.Region, len(ids))
	for i, id := range ids {
		out[i] = clone(m.regions[id])
	}
	return out, nil
}

func (m *Memory) Save(_ context.Context, r *domain.Region) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextID++
		r.ID = m.nextID
	} else if r.ID > m.nextID {
		m.nextID = r.ID
	}
	m.regions[r.ID] = *clone(*r)
	return nil
}

func (m *Memory) UpdateClimate(_ context.Context, id int64, c domain.Climate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[id]
	if !ok {
		return fmt.Errorf("update climate of region %d: %w", id, ErrNotFound)
	}
	r.RiskLevel = c.RiskLevel
	r.RainLevel = c.RainLevel
	r.Temperature = c.Temperature
	r.IsRiskArea = c.IsRiskArea
	r.UpdatedAt = c.UpdatedAt
	m.regions[id] = *clone(r)
	return nil
}

func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.regions[id]; !ok {
		return fmt.Errorf("delete region %d: %w", id, ErrNotFound)
	}
	delete(m.regions, id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func clone(r domain.Region) *domain.Region {
	if r.RainLevel != nil {
		v := *r.RainLevel
		r.RainLevel = &v
	}
	if r.Temperature != nil {
		v := *r.Temperature
		r.Temperature = &v
	}
	return &r
}
