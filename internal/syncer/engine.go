// Package syncer reconciles the local store with the remote gateway.
//
// Writes always land in the local store first. Remote writes that fail are
// queued for replay. A full sync pushes local collections, replays the queue,
// pulls and merges remote collections and finally removes orphans.
package syncer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"readaloud/internal/journal"
	"readaloud/internal/localstore"
	"readaloud/internal/models"
	"readaloud/internal/retryqueue"
	"readaloud/internal/storage"
)

// BlobRemover deletes uploaded audio. Failures are not reported.
type BlobRemover interface {
	Delete(ctx context.Context, id, url string) bool
}

// CollectionResult is the outcome of pushing or pulling one collection
type CollectionResult struct {
	Table models.Table `json:"table"`
	Count int          `json:"count"`
	Error string       `json:"error,omitempty"`
}

// PushResult summarizes SyncToRemote
type PushResult struct {
	Skipped     bool               `json:"skipped"`
	Collections []CollectionResult `json:"collections"`
}

// Failed returns the number of collections that could not be pushed
func (r PushResult) Failed() int {
	return countFailed(r.Collections)
}

// PullResult summarizes the pull and merge step
type PullResult struct {
	Skipped     bool               `json:"skipped"`
	Collections []CollectionResult `json:"collections"`
}

// Failed returns the number of collections whose fetch failed
func (r PullResult) Failed() int {
	return countFailed(r.Collections)
}

// CleanupResult counts removed orphans
type CleanupResult struct {
	Chapters   int `json:"chapters"`
	Recordings int `json:"recordings"`
}

// SyncResult summarizes a full sync pass
type SyncResult struct {
	Skipped bool              `json:"skipped"`
	Push    PushResult        `json:"push"`
	Replay  retryqueue.Result `json:"replay"`
	Pull    PullResult        `json:"pull"`
	Cleanup CleanupResult     `json:"cleanup"`
}

func countFailed(results []CollectionResult) int {
	n := 0
	for _, r := range results {
		if r.Error != "" {
			n++
		}
	}
	return n
}

// Engine owns the library collections of the local store
type Engine struct {
	gw      storage.Gateway
	queue   *retryqueue.Queue
	blobs   BlobRemover
	journal journal.Recorder
	logger  *zap.Logger
	now     func() time.Time
	device  string

	books      *localstore.Collection[models.Book]
	chapters   *localstore.Collection[models.Chapter]
	recordings *localstore.Collection[models.Recording]
	users      *localstore.Collection[models.User]

	// serializes whole sync passes
	syncMu sync.Mutex
}

// Option configures an Engine
type Option func(*Engine)

// WithBlobRemover deletes recording audio when recordings are deleted
func WithBlobRemover(b BlobRemover) Option {
	return func(e *Engine) { e.blobs = b }
}

// WithJournal records push and pull outcomes
func WithJournal(r journal.Recorder) Option {
	return func(e *Engine) { e.journal = r }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDeviceID tags journal events
func WithDeviceID(id string) Option {
	return func(e *Engine) { e.device = id }
}

// New creates an engine over store and gw, queuing failed writes in queue
func New(store *localstore.Store, gw storage.Gateway, queue *retryqueue.Queue, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		gw:         gw,
		queue:      queue,
		journal:    journal.Nop{},
		logger:     logger,
		now:        time.Now,
		books:      localstore.NewCollection[models.Book](store, localstore.KeyBooks),
		chapters:   localstore.NewCollection[models.Chapter](store, localstore.KeyChapters),
		recordings: localstore.NewCollection[models.Recording](store, localstore.KeyRecordings),
		users:      localstore.NewCollection[models.User](store, localstore.KeyUsers),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Available reports whether the remote gateway is configured
func (e *Engine) Available() bool {
	return e.gw.Available()
}

func (e *Engine) report(ctx context.Context, kind journal.Kind, results []CollectionResult) {
	events := make([]journal.Event, 0, len(results))
	for _, r := range results {
		outcome := journal.OutcomeSucceeded
		if r.Error != "" {
			outcome = journal.OutcomeFailed
		}
		events = append(events, journal.Event{
			At:       e.now(),
			DeviceID: e.device,
			Kind:     kind,
			Table:    r.Table,
			Outcome:  outcome,
			Count:    r.Count,
			Detail:   r.Error,
		})
	}
	if len(events) == 0 {
		return
	}
	if err := e.journal.Record(ctx, events...); err != nil {
		e.logger.Warn("Failed to write sync journal", zap.Error(err))
	}
}
