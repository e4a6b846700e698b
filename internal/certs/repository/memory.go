package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmerrifield20/certledger/internal/certs/model"
)

// MemoryStore is an in-memory, thread-safe Store. It is useful for tests
// and for single-process deployments that do not need durability.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*model.Certificate
	order  []*model.Certificate
	nextID int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*model.Certificate)}
}

// Insert implements Store.
func (m *MemoryStore) Insert(_ context.Context, c *model.Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[c.CertificateID]; ok {
		return ErrDuplicateKey
	}
	m.nextID++
	c.ID = m.nextID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	stored := *c
	m.byID[c.CertificateID] = &stored
	m.order = append(m.order, &stored)
	return nil
}

// GetActive implements Store.
func (m *MemoryStore) GetActive(_ context.Context, certificateID string) (*model.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.byID[certificateID]
	if !ok || !c.IsActive {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// GetAny implements Store.
func (m *MemoryStore) GetAny(_ context.Context, certificateID string) (*model.Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.byID[certificateID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// ListActive implements Store.
func (m *MemoryStore) ListActive(_ context.Context, limit, offset int) ([]*model.Certificate, error) {
	return m.list(true, limit, offset), nil
}

// ListAll implements Store.
func (m *MemoryStore) ListAll(_ context.Context, limit, offset int) ([]*model.Certificate, error) {
	return m.list(false, limit, offset), nil
}

func (m *MemoryStore) list(activeOnly bool, limit, offset int) []*model.Certificate {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*model.Certificate
	for _, c := range m.order {
		if activeOnly && !c.IsActive {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return nil
	}
	matched = matched[offset:]
	if n := pageSize(limit); len(matched) > n {
		matched = matched[:n]
	}
	return matched
}

// SetActive implements Store.
func (m *MemoryStore) SetActive(_ context.Context, certificateID string, active bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.byID[certificateID]
	if !ok || c.IsActive == active {
		return 0, nil
	}
	c.IsActive = active
	return 1, nil
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context) (model.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var counts model.Counts
	for _, c := range m.order {
		counts.Total++
		if c.IsActive {
			counts.Active++
		}
	}
	counts.Inactive = counts.Total - counts.Active
	return counts, nil
}
