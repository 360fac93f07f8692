// Package localstore is the synchronous local-first persistence layer.
//
// Entity collections and the pending-operation queue are stored as JSON
// documents under string keys inside a namespace. Reads never fail: a missing
// or corrupt document loads as an empty collection.
package localstore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// ErrClosed is returned by writes after Close
var ErrClosed = errors.New("local store is closed")

// KV is a namespaced byte store
type KV interface {
	Get(namespace, key string) ([]byte, error)
	Set(namespace, key string, value []byte) error
	Delete(namespace, key string) error
	Close() error
}

// Driver names accepted by Open
const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open creates the KV backend for driver inside dataDir
func Open(driver, dataDir string) (KV, error) {
	switch driver {
	case DriverBolt, "":
		kv := NewBoltKV()
		if err := kv.Open(filepath.Join(dataDir, "readaloud.db")); err != nil {
			return nil, err
		}
		return kv, nil
	case DriverSQLite:
		return OpenSQLiteKV(filepath.Join(dataDir, "readaloud.sqlite"))
	case DriverMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown local store driver %q", driver)
	}
}

// MemoryKV keeps everything in process memory
type MemoryKV struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[namespace+"/"+key]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[namespace+"/"+key] = v
	return nil
}

func (m *MemoryKV) Delete(namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	delete(m.data, namespace+"/"+key)
	return nil
}

// Close marks the store closed
func (m *MemoryKV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
