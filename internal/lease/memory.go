package lease

import (
	"context"
	"sync"
)

// Memory is an in-process lease. It only excludes holders within one process.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an empty in-process lease table.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryAcquire marks name as held, or returns ErrHeld.
func (m *Memory) TryAcquire(_ context.Context, name string) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[name]; ok {
		return nil, ErrHeld
	}
	m.held[name] = struct{}{}
	return &memoryHandle{m: m, name: name}, nil
}

// Held reports whether name is currently leased.
func (m *Memory) Held(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[name]
	return ok
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

type memoryHandle struct {
	m    *Memory
	name string
	once sync.Once
}

func (h *memoryHandle) Release(context.Context) error {
	h.once.Do(func() {
		h.m.mu.Lock()
		delete(h.m.held, h.name)
		h.m.mu.Unlock()
	})
	return nil
}

var _ Backend = (*Memory)(nil)
