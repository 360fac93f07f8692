package storage

import (
	"context"

	"readaloud/internal/models"
)

// Unavailable is the gateway used when no credential is configured.
// Every call fails fast with ErrUnavailable without touching the network.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Books() Repository[models.Book]           { return unavailableRepo[models.Book]{} }
func (Unavailable) Chapters() Repository[models.Chapter]     { return unavailableRepo[models.Chapter]{} }
func (Unavailable) Recordings() Repository[models.Recording] { return unavailableRepo[models.Recording]{} }
func (Unavailable) Users() Repository[models.User]           { return unavailableRepo[models.User]{} }
func (Unavailable) Progress() Repository[models.ChapterProgress] {
	return unavailableRepo[models.ChapterProgress]{}
}
func (Unavailable) Locks() Repository[models.RecordingLock] {
	return unavailableRepo[models.RecordingLock]{}
}

func (Unavailable) Subscribe(context.Context, models.Table, func(ChangeEvent)) (func(), error) {
	return nil, ErrUnavailable
}

func (Unavailable) Close() error { return nil }

type unavailableRepo[T models.Entity] struct{}

func (unavailableRepo[T]) Insert(context.Context, T) error                   { return ErrUnavailable }
func (unavailableRepo[T]) Upsert(context.Context, T) error                   { return ErrUnavailable }
func (unavailableRepo[T]) UpsertBatch(context.Context, []T) error            { return ErrUnavailable }
func (unavailableRepo[T]) Update(context.Context, T) error                   { return ErrUnavailable }
func (unavailableRepo[T]) Delete(context.Context, string) error              { return ErrUnavailable }
func (unavailableRepo[T]) DeleteWhere(context.Context, string, string) error { return ErrUnavailable }
func (unavailableRepo[T]) List(context.Context) ([]T, error)                 { return nil, ErrUnavailable }
