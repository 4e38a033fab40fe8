// Package store provides Repository implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/warp/group-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps deep copies of group documents so callers can never mutate
// stored state without going through Save.
type Memory struct {
	mu     sync.RWMutex
	groups map[ledger.GroupID]*ledger.Group
}

var _ ledger.Repository = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{groups: make(map[ledger.GroupID]*ledger.Group)}
}

func (m *Memory) Create(_ context.Context, g *ledger.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.groups[g.ID]; exists {
		return fmt.Errorf("%w: group %s already exists", ledger.ErrInvalidInput, g.ID)
	}
	g.Version = 1
	m.groups[g.ID] = g.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id ledger.GroupID) (*ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[id]
	if !ok {
		return nil, ledger.NotFound("group", string(id))
	}
	return g.Clone(), nil
}

// Save is a compare-and-swap on the version.
func (m *Memory) Save(_ context.Context, g *ledger.Group, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.groups[g.ID]
	if !ok {
		return ledger.NotFound("group", string(g.ID))
	}
	if current.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	g.Version = expectedVersion + 1
	m.groups[g.ID] = g.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id ledger.GroupID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[id]; !ok {
		return ledger.NotFound("group", string(id))
	}
	delete(m.groups, id)
	return nil
}

// ListByMember returns matching groups ordered by creation time.
func (m *Memory) ListByMember(_ context.Context, userID ledger.UserID) ([]*ledger.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*ledger.Group
	for _, g := range m.groups {
		if g.IsActive(userID) {
			result = append(result, g.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}
