package localstore

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// BoltKV stores each namespace in its own bbolt bucket
type BoltKV struct {
	db     *bbolt.DB
	noSync bool
}

// BoltOption configures a BoltKV
type BoltOption func(*BoltKV)

// WithNoSync disables fsync per transaction. Only for tests.
func WithNoSync(noSync bool) BoltOption {
	return func(b *BoltKV) {
		b.noSync = noSync
	}
}

// NewBoltKV creates an unopened BoltKV
func NewBoltKV(opts ...BoltOption) *BoltKV {
	b := &BoltKV{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database file at path
func (b *BoltKV) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening local store: %w", err)
	}
	b.db = db
	return nil
}

func (b *BoltKV) Get(namespace, key string) ([]byte, error) {
	if b.db == nil {
		return nil, ErrClosed
	}
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		val := bucket.Get([]byte(key))
		if val == nil {
			return nil
		}
		data = make([]byte, len(val))
		copy(data, val)
		return nil
	})
	return data, err
}

func (b *BoltKV) Set(namespace, key string, value []byte) error {
	if b.db == nil {
		return ErrClosed
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("creating bucket %s: %w", namespace, err)
		}
		return bucket.Put([]byte(key), value)
	})
}

func (b *BoltKV) Delete(namespace, key string) error {
	if b.db == nil {
		return ErrClosed
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// Close closes the database file
func (b *BoltKV) Close() error {
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}
