package storage

import (
	"context"
	"encoding/json"
	"errors"

	"readaloud/internal/models"
)

var (
	// ErrUnavailable is returned by every call on a gateway without credentials
	ErrUnavailable = errors.New("remote store is not configured")
	// ErrNotFound is returned when an update targets a missing row
	ErrNotFound = errors.New("remote row not found")
)

// Repository defines the row operations on one remote collection.
// Keys are the entity's Key(); composite keys use the "a:b" form.
type Repository[T models.Entity] interface {
	Insert(ctx context.Context, item T) error
	Upsert(ctx context.Context, item T) error
	UpsertBatch(ctx context.Context, items []T) error
	Update(ctx context.Context, item T) error
	Delete(ctx context.Context, key string) error
	// DeleteWhere removes every row whose column field equals value
	DeleteWhere(ctx context.Context, field, value string) error
	List(ctx context.Context) ([]T, error)
}

// ChangeType is the kind of row change delivered by a subscription
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent describes one row change on a remote collection
type ChangeEvent struct {
	Table models.Table    `json:"table"`
	Type  ChangeType      `json:"type"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Gateway is the remote authoritative store
type Gateway interface {
	// Available reports whether remote calls can be attempted at all
	Available() bool

	Books() Repository[models.Book]
	Chapters() Repository[models.Chapter]
	Recordings() Repository[models.Recording]
	Users() Repository[models.User]
	Progress() Repository[models.ChapterProgress]
	Locks() Repository[models.RecordingLock]

	// Subscribe delivers row changes of table to fn until the returned cancel func is called
	Subscribe(ctx context.Context, table models.Table, fn func(ChangeEvent)) (cancel func(), err error)

	// Lifecycle
	Close() error
}
