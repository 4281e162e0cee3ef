// Package persistence provides the device-local storage a guest cart writes to.
package persistence

import (
	"sync"

	"github.com/your-org/storefront-cart/internal/domain/cart"
)

// Memory keeps guest carts in process memory
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Read implements cart.Persistence
func (m *Memory) Read(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, cart.ErrNotPersisted
	}
	return append([]byte(nil), data...), nil
}

// Write implements cart.Persistence
func (m *Memory) Write(key string, data []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}
