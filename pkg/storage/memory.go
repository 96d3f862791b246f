package storage

import "sync"

// Memory is the volatile in-process tier.
type Memory struct {
	mu    sync.RWMutex
	store map[string]string
}

// NewMemory creates an empty memory tier.
func NewMemory() *Memory {
	return &Memory{store: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.store[key]
	return v, ok
}

func (m *Memory) Set(key, value string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[key] = value
	return true
}

func (m *Memory) Remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return true
}

// Enabled always reports true.
func (m *Memory) Enabled() bool { return true }

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store)
}
