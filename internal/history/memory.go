package history

import (
	"context"
	"sync"
)

// MemoryBackend keeps history in process memory. Used for --ephemeral runs
// and tests.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string][]byte

	// Fail, when set, is returned from every operation.
	Fail error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string][]byte)}
}

func (m *MemoryBackend) Read(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return nil, m.Fail
	}
	data, ok := m.entries[key]
	if !ok {
		return nil, ErrNoEntry
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryBackend) Write(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	delete(m.entries, key)
	return nil
}

// SetFail changes the injected failure.
func (m *MemoryBackend) SetFail(err error) {
	m.mu.Lock()
	m.Fail = err
	m.mu.Unlock()
}
