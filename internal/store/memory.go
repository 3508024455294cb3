package store

import (
	"context"
	"sync"
)

// MemoryKV is an in-process KV. A non-zero MaxBytes makes SetItem fail with
// ErrQuotaExceeded once the sum of key and value lengths would exceed it.
type MemoryKV struct {
	mu       sync.Mutex
	items    map[string]string
	MaxBytes int
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string]string)}
}

// GetItem implements KV.
func (m *MemoryKV) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem implements KV.
func (m *MemoryKV) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.MaxBytes > 0 {
		size := len(key) + len(value)
		for k, v := range m.items {
			if k != key {
				size += len(k) + len(v)
			}
		}
		if size > m.MaxBytes {
			return ErrQuotaExceeded
		}
	}

	m.items[key] = value
	return nil
}

// RemoveItem implements KV.
func (m *MemoryKV) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}
