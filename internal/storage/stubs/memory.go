package stubs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"readaloud/internal/models"
	"readaloud/internal/storage"
)

// MemoryGateway is an in-memory implementation of storage.Gateway for tests and local development.
// Failures can be injected per table to simulate an unreachable remote store.
type MemoryGateway struct {
	mu          sync.RWMutex
	available   bool
	failures    map[models.Table]error
	calls       map[models.Table]int
	subscribers map[models.Table]map[int]func(storage.ChangeEvent)
	nextSubID   int

	books      *memRepo[models.Book]
	chapters   *memRepo[models.Chapter]
	recordings *memRepo[models.Recording]
	users      *memRepo[models.User]
	progress   *memRepo[models.ChapterProgress]
	locks      *memRepo[models.RecordingLock]
}

// NewMemoryGateway creates an empty, reachable gateway
func NewMemoryGateway() *MemoryGateway {
	g := &MemoryGateway{
		available:   true,
		failures:    make(map[models.Table]error),
		calls:       make(map[models.Table]int),
		subscribers: make(map[models.Table]map[int]func(storage.ChangeEvent)),
	}
	g.books = newMemRepo[models.Book](g, models.TableBooks)
	g.chapters = newMemRepo[models.Chapter](g, models.TableChapters)
	g.recordings = newMemRepo[models.Recording](g, models.TableRecordings)
	g.users = newMemRepo[models.User](g, models.TableUsers)
	g.progress = newMemRepo[models.ChapterProgress](g, models.TableProgress)
	g.locks = newMemRepo[models.RecordingLock](g, models.TableRecordingLocks)
	return g
}

// SetAvailable toggles whether the gateway reports itself as configured
func (g *MemoryGateway) SetAvailable(available bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.available = available
}

// FailTable makes every call on table return err until ClearFailures is called
func (g *MemoryGateway) FailTable(table models.Table, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[table] = err
}

// FailAll makes every table fail with err
func (g *MemoryGateway) FailAll(err error) {
	for _, table := range []models.Table{
		models.TableBooks, models.TableChapters, models.TableRecordings,
		models.TableUsers, models.TableProgress, models.TableRecordingLocks,
	} {
		g.FailTable(table, err)
	}
}

// ClearFailures removes all injected failures
func (g *MemoryGateway) ClearFailures() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = make(map[models.Table]error)
}

// Calls returns how many calls reached table, including failed ones
func (g *MemoryGateway) Calls(table models.Table) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.calls[table]
}

func (g *MemoryGateway) Available() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.available
}

func (g *MemoryGateway) Books() storage.Repository[models.Book]           { return g.books }
func (g *MemoryGateway) Chapters() storage.Repository[models.Chapter]     { return g.chapters }
func (g *MemoryGateway) Recordings() storage.Repository[models.Recording] { return g.recordings }
func (g *MemoryGateway) Users() storage.Repository[models.User]           { return g.users }
func (g *MemoryGateway) Progress() storage.Repository[models.ChapterProgress] {
	return g.progress
}
func (g *MemoryGateway) Locks() storage.Repository[models.RecordingLock] { return g.locks }

// Subscribe registers fn for changes on table
func (g *MemoryGateway) Subscribe(ctx context.Context, table models.Table, fn func(storage.ChangeEvent)) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.available {
		return nil, storage.ErrUnavailable
	}
	if err := g.failures[table]; err != nil {
		return nil, err
	}

	id := g.nextSubID
	g.nextSubID++
	if g.subscribers[table] == nil {
		g.subscribers[table] = make(map[int]func(storage.ChangeEvent))
	}
	g.subscribers[table][id] = fn

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.subscribers[table], id)
	}, nil
}

// Count returns the number of rows stored in table without counting as a call
func (g *MemoryGateway) Count(table models.Table) int {
	switch table {
	case models.TableBooks:
		return g.books.len()
	case models.TableChapters:
		return g.chapters.len()
	case models.TableRecordings:
		return g.recordings.len()
	case models.TableUsers:
		return g.users.len()
	case models.TableProgress:
		return g.progress.len()
	case models.TableRecordingLocks:
		return g.locks.len()
	}
	return 0
}

// Close does nothing for the memory gateway
func (g *MemoryGateway) Close() error {
	return nil
}

func (g *MemoryGateway) begin(table models.Table) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.available {
		return storage.ErrUnavailable
	}
	g.calls[table]++
	return g.failures[table]
}

func (g *MemoryGateway) publish(table models.Table, changeType storage.ChangeType, newRow, oldRow any) {
	g.mu.RLock()
	fns := make([]func(storage.ChangeEvent), 0, len(g.subscribers[table]))
	for _, fn := range g.subscribers[table] {
		fns = append(fns, fn)
	}
	g.mu.RUnlock()

	if len(fns) == 0 {
		return
	}

	event := storage.ChangeEvent{Table: table, Type: changeType}
	if newRow != nil {
		event.New, _ = json.Marshal(newRow)
	}
	if oldRow != nil {
		event.Old, _ = json.Marshal(oldRow)
	}
	for _, fn := range fns {
		fn(event)
	}
}

type memRepo[T models.Entity] struct {
	gw    *MemoryGateway
	table models.Table
	mu    sync.RWMutex
	rows  map[string]T
}

func newMemRepo[T models.Entity](gw *MemoryGateway, table models.Table) *memRepo[T] {
	return &memRepo[T]{gw: gw, table: table, rows: make(map[string]T)}
}

func (r *memRepo[T]) Insert(ctx context.Context, item T) error {
	if err := r.gw.begin(r.table); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.rows[item.Key()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("duplicate key %s in %s", item.Key(), r.table)
	}
	r.rows[item.Key()] = item
	r.mu.Unlock()

	r.gw.publish(r.table, storage.ChangeInsert, item, nil)
	return nil
}

func (r *memRepo[T]) Upsert(ctx context.Context, item T) error {
	if err := r.gw.begin(r.table); err != nil {
		return err
	}
	r.upsert(item)
	return nil
}

func (r *memRepo[T]) UpsertBatch(ctx context.Context, items []T) error {
	if err := r.gw.begin(r.table); err != nil {
		return err
	}
	for _, item := range items {
		r.upsert(item)
	}
	return nil
}

func (r *memRepo[T]) upsert(item T) {
	r.mu.Lock()
	old, existed := r.rows[item.Key()]
	r.rows[item.Key()] = item
	r.mu.Unlock()

	if existed {
		r.gw.publish(r.table, storage.ChangeUpdate, item, old)
	} else {
		r.gw.publish(r.table, storage.ChangeInsert, item, nil)
	}
}

func (r *memRepo[T]) Update(ctx context.Context, item T) error {
	if err := r.gw.begin(r.table); err != nil {
		return err
	}

	r.mu.Lock()
	old, exists := r.rows[item.Key()]
	if !exists {
		r.mu.Unlock()
		return storage.ErrNotFound
	}
	r.rows[item.Key()] = item
	r.mu.Unlock()

	r.gw.publish(r.table, storage.ChangeUpdate, item, old)
	return nil
}

func (r *memRepo[T]) Delete(ctx context.Context, key string) error {
	if err := r.gw.begin(r.table); err != nil {
		return err
	}

	r.mu.Lock()
	old, exists := r.rows[key]
	delete(r.rows, key)
	r.mu.Unlock()

	if exists {
		r.gw.publish(r.table, storage.ChangeDelete, nil, old)
	}
	return nil
}

func (r *memRepo[T]) DeleteWhere(ctx context.Context, field, value string) error {
	if err := r.gw.begin(r.table); err != nil {
		return err
	}

	r.mu.Lock()
	var removed []T
	for key, item := range r.rows {
		if fieldValue(item, field) == value {
			removed = append(removed, item)
			delete(r.rows, key)
		}
	}
	r.mu.Unlock()

	for _, item := range removed {
		r.gw.publish(r.table, storage.ChangeDelete, nil, item)
	}
	return nil
}

// List returns all rows sorted by key
func (r *memRepo[T]) List(ctx context.Context) ([]T, error) {
	if err := r.gw.begin(r.table); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]T, 0, len(r.rows))
	for _, item := range r.rows {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Key() < items[j].Key()
	})
	return items, nil
}

func (r *memRepo[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// fieldValue reads a column by its JSON name
func fieldValue(item any, field string) string {
	data, err := json.Marshal(item)
	if err != nil {
		return ""
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return ""
	}
	v, ok := row[field]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
