package history

import (
	"context"
	"slices"
	"sync"
	"upgrader/internal/apperrors"
)

// Memory keeps the most recent runs in process memory.
type Memory struct {
	mu    sync.RWMutex
	runs  map[string]Run
	order []string // ascending by ID
	limit int
}

// NewMemory creates a store retaining at most limit runs (default 200).
func NewMemory(limit int) *Memory {
	if limit <= 0 {
		limit = 200
	}
	return &Memory{
		runs:  make(map[string]Run),
		limit: limit,
	}
}

func (m *Memory) Put(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[run.ID]; !exists {
		i, _ := slices.BinarySearch(m.order, run.ID)
		m.order = slices.Insert(m.order, i, run.ID)
	}
	m.runs[run.ID] = run

	for len(m.order) > m.limit {
		delete(m.runs, m.order[0])
		m.order = m.order[1:]
	}
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return Run{}, apperrors.NotFound("run", id)
	}
	return run, nil
}

func (m *Memory) List(_ context.Context, limit int) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]Run, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.runs[m.order[i]])
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
