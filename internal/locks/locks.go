// Package locks coordinates which reader is recording a chapter.
//
// Leases are advisory: CheckLock and Acquire are separate steps, so two
// readers checking at the same moment can both acquire. TryAcquire closes that
// gap when an AtomicAcquirer is configured.
package locks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"readaloud/internal/localstore"
	"readaloud/internal/models"
	"readaloud/internal/storage"
)

// ErrHeld is returned by TryAcquire when another reader holds the chapter
var ErrHeld = errors.New("chapter is being recorded by another reader")

// LockStatus is the answer to "may I record this chapter?"
type LockStatus struct {
	Locked     bool      `json:"locked"`
	HolderID   string    `json:"holder_id,omitempty"`
	HolderName string    `json:"holder_name,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
}

// Holder identifies the reader owning an atomic lease
type Holder struct {
	ID   string
	Name string
}

// AtomicAcquirer grants a lease only if nobody else holds it
type AtomicAcquirer interface {
	// TryAcquire returns the current holder. The lease was granted when holder.ID == readerID.
	TryAcquire(ctx context.Context, chapterID, readerID, readerName string, ttl time.Duration) (Holder, error)
	Release(ctx context.Context, chapterID, readerID string) error
}

// Manager owns the local lease collection
type Manager struct {
	gw     storage.Gateway
	leases *localstore.Collection[models.RecordingLock]
	atomic AtomicAcquirer
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

// WithAtomicAcquirer enables exclusive TryAcquire
func WithAtomicAcquirer(a AtomicAcquirer) Option {
	return func(m *Manager) { m.atomic = a }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a lock manager
func NewManager(store *localstore.Store, gw storage.Gateway, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		gw:     gw,
		leases: localstore.NewCollection[models.RecordingLock](store, localstore.KeyLocks),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckLock reports whether a reader other than requesterID holds chapterID.
// Local leases are consulted first, then the remote store.
func (m *Manager) CheckLock(ctx context.Context, chapterID, requesterID string) LockStatus {
	now := m.now()

	for _, l := range m.leases.All() {
		if blocks(l, chapterID, requesterID, now) {
			return statusOf(l)
		}
	}

	if !m.gw.Available() {
		return LockStatus{}
	}
	remote, err := m.gw.Locks().List(ctx)
	if err != nil {
		m.logger.Warn("Failed to check remote locks", zap.String("chapter_id", chapterID), zap.Error(err))
		return LockStatus{}
	}
	for _, l := range remote {
		if blocks(l, chapterID, requesterID, now) {
			return statusOf(l)
		}
	}
	return LockStatus{}
}

// Acquire records a lease for readerID on chapterID. It never refuses.
func (m *Manager) Acquire(ctx context.Context, chapterID, readerID, readerName string) models.RecordingLock {
	now := m.now()
	lock := models.RecordingLock{
		ChapterID:  chapterID,
		ReaderID:   readerID,
		ReaderName: readerName,
		LockedAt:   now,
		ExpiresAt:  now.Add(models.LeaseDuration),
	}
	m.leases.Upsert(lock)

	if m.gw.Available() {
		if err := m.gw.Locks().Upsert(ctx, lock); err != nil {
			m.logger.Warn("Failed to publish lock", zap.String("chapter_id", chapterID), zap.Error(err))
		}
	}
	return lock
}

// TryAcquire acquires only when no other reader holds chapterID
func (m *Manager) TryAcquire(ctx context.Context, chapterID, readerID, readerName string) (models.RecordingLock, error) {
	if m.atomic != nil {
		holder, err := m.atomic.TryAcquire(ctx, chapterID, readerID, readerName, models.LeaseDuration)
		if err != nil {
			return models.RecordingLock{}, fmt.Errorf("failed to acquire lease: %w", err)
		}
		if holder.ID != readerID {
			return models.RecordingLock{}, fmt.Errorf("%w: held by %s", ErrHeld, holder.Name)
		}
	} else if status := m.CheckLock(ctx, chapterID, readerID); status.Locked {
		return models.RecordingLock{}, fmt.Errorf("%w: held by %s", ErrHeld, status.HolderName)
	}
	return m.Acquire(ctx, chapterID, readerID, readerName), nil
}

// Release drops the lease of readerID on chapterID
func (m *Manager) Release(ctx context.Context, chapterID, readerID string) {
	m.leases.Remove(models.LockKey(chapterID, readerID))

	if m.atomic != nil {
		if err := m.atomic.Release(ctx, chapterID, readerID); err != nil {
			m.logger.Warn("Failed to release atomic lease", zap.String("chapter_id", chapterID), zap.Error(err))
		}
	}
	if m.gw.Available() {
		if err := m.gw.Locks().Delete(ctx, models.LockKey(chapterID, readerID)); err != nil {
			m.logger.Warn("Failed to release remote lock", zap.String("chapter_id", chapterID), zap.Error(err))
		}
	}
}

// ActiveLocks returns every unexpired lease, local and remote, once per key
func (m *Manager) ActiveLocks(ctx context.Context) []models.RecordingLock {
	now := m.now()
	seen := make(map[string]struct{})
	var active []models.RecordingLock

	add := func(locks []models.RecordingLock) {
		for _, l := range locks {
			if l.Expired(now) {
				continue
			}
			if _, ok := seen[l.Key()]; ok {
				continue
			}
			seen[l.Key()] = struct{}{}
			active = append(active, l)
		}
	}

	add(m.leases.All())
	if m.gw.Available() {
		remote, err := m.gw.Locks().List(ctx)
		if err != nil {
			m.logger.Warn("Failed to list remote locks", zap.Error(err))
		} else {
			add(remote)
		}
	}
	return active
}

// Subscribe calls fn with the active leases whenever the remote lease table
// changes. The returned func is nil when there is no remote store.
func (m *Manager) Subscribe(ctx context.Context, fn func([]models.RecordingLock)) (func(), error) {
	if !m.gw.Available() {
		return nil, nil
	}
	cancel, err := m.gw.Subscribe(ctx, models.TableRecordingLocks, func(storage.ChangeEvent) {
		fn(m.ActiveLocks(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to lock changes: %w", err)
	}
	return cancel, nil
}

func blocks(l models.RecordingLock, chapterID, requesterID string, now time.Time) bool {
	return l.ChapterID == chapterID && l.ReaderID != requesterID && !l.Expired(now)
}

func statusOf(l models.RecordingLock) LockStatus {
	return LockStatus{
		Locked:     true,
		HolderID:   l.ReaderID,
		HolderName: l.ReaderName,
		ExpiresAt:  l.ExpiresAt,
	}
}
