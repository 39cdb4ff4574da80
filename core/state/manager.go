package state

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"custodia/storage"
)

// Manager mediates between the engines and the key-value backend. Records are
// RLP-encoded whole; every read decodes a fresh copy so callers never alias
// stored data. A single mutex serializes access, matching the one-call-at-a-
// time execution model of the engines.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
}

// NewManager creates a state manager over the supplied database.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	return &Manager{db: db}, nil
}

// KVPut RLP-encodes the value and stores it under the key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(key, encoded)
}

// KVGet loads and decodes the value stored under the key. The boolean reports
// whether the key exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, fmt.Errorf("state: manager unavailable")
	}
	m.mu.RLock()
	encoded, ok, err := m.db.Get(key)
	m.mu.RUnlock()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}
