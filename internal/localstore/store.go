package localstore

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"readaloud/internal/models"
)

// Collection keys used by the application
const (
	KeyBooks      = "books"
	KeyChapters   = "chapters"
	KeyRecordings = "recordings"
	KeyUsers      = "users"
	KeyProgress   = "progress"
	KeyLocks      = "recording_locks"
	KeyPending    = "pending_operations"
)

// Store wraps a KV with tolerant JSON documents under one namespace.
// All read-modify-write sequences go through the store mutex.
type Store struct {
	kv        KV
	namespace string
	mu        sync.Mutex
	logger    *zap.Logger
}

// New creates a Store. A nil logger discards output.
func New(kv KV, namespace string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{kv: kv, namespace: namespace, logger: logger}
}

// Load decodes the document at key into v.
// Returns false when the document is missing or unreadable; v is left untouched.
func (s *Store) Load(key string, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(key, v)
}

// Save encodes v under key
func (s *Store) Save(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(key, v)
}

// Remove deletes the document at key
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(s.namespace, key)
}

// Close closes the underlying KV
func (s *Store) Close() error {
	return s.kv.Close()
}

func (s *Store) load(key string, v any) bool {
	data, err := s.kv.Get(s.namespace, key)
	if err != nil {
		s.logger.Warn("Failed to read local document", zap.String("key", key), zap.Error(err))
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Discarding corrupt local document", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.kv.Set(s.namespace, key, data)
}

// Collection is a typed list of entities persisted as one document
type Collection[T models.Entity] struct {
	store *Store
	key   string
}

// NewCollection binds a typed collection to key
func NewCollection[T models.Entity](store *Store, key string) *Collection[T] {
	return &Collection[T]{store: store, key: key}
}

// All returns every item, or an empty slice
func (c *Collection[T]) All() []T {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	return c.read()
}

// Get returns the item with the given key
func (c *Collection[T]) Get(key string) (T, bool) {
	for _, item := range c.All() {
		if item.Key() == key {
			return item, true
		}
	}
	var zero T
	return zero, false
}

// Replace overwrites the whole collection
func (c *Collection[T]) Replace(items []T) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.write(items)
}

// Update applies fn to the current items and persists the result atomically
func (c *Collection[T]) Update(fn func([]T) []T) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	c.write(fn(c.read()))
}

// Upsert replaces the item with the same key or appends it
func (c *Collection[T]) Upsert(item T) {
	c.Update(func(items []T) []T {
		for i := range items {
			if items[i].Key() == item.Key() {
				items[i] = item
				return items
			}
		}
		return append(items, item)
	})
}

// RemoveWhere drops every item matching pred and returns how many were removed
func (c *Collection[T]) RemoveWhere(pred func(T) bool) int {
	removed := 0
	c.Update(func(items []T) []T {
		kept := items[:0]
		for _, item := range items {
			if pred(item) {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		return kept
	})
	return removed
}

// Remove drops the item with the given key
func (c *Collection[T]) Remove(key string) bool {
	return c.RemoveWhere(func(item T) bool { return item.Key() == key }) > 0
}

// Clear empties the collection
func (c *Collection[T]) Clear() {
	c.Replace([]T{})
}

func (c *Collection[T]) read() []T {
	var items []T
	if !c.store.load(c.key, &items) || items == nil {
		return []T{}
	}
	return items
}

func (c *Collection[T]) write(items []T) {
	if items == nil {
		items = []T{}
	}
	if err := c.store.save(c.key, items); err != nil {
		c.store.logger.Error("Failed to persist local collection",
			zap.String("collection", c.key),
			zap.Int("items", len(items)),
			zap.Error(err),
		)
	}
}
