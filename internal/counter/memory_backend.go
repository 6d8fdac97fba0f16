package counter

import (
	"context"
	"sync"
)

// MemoryBackend keeps counters in process memory. It backs the "memory"
// counter mode for local development and the tests of the packages above.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]int64)}
}

// Increment implements Backend.
func (m *MemoryBackend) Increment(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key]++
	return m.values[key], nil
}

// Read implements Backend.
func (m *MemoryBackend) Read(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

// Set overwrites a counter.
func (m *MemoryBackend) Set(key string, value int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// Snapshot returns a copy of every counter.
func (m *MemoryBackend) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
