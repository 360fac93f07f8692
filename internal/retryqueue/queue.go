// Package retryqueue is the durable log of remote writes that failed and are
// replayed until they succeed, run out of attempts or grow too old.
package retryqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"readaloud/internal/journal"
	"readaloud/internal/localstore"
	"readaloud/internal/models"
	"readaloud/internal/notify"
)

const (
	// MaxAge is how long an operation may wait before it is dropped
	MaxAge = 7 * 24 * time.Hour
	// MaxRetries is the number of failed replays after which an operation is dropped
	MaxRetries = 5
	// BackoffStep is multiplied by the retry count to get the wait before the next attempt
	BackoffStep = 30 * time.Second
)

// Dispatcher performs the remote write held by an operation
type Dispatcher interface {
	Dispatch(ctx context.Context, op models.PendingOperation) error
}

// Result summarizes one replay pass
type Result struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
	Exhausted int `json:"exhausted"`
	Deferred  int `json:"deferred"`
}

// Dropped is the number of operations removed without success
func (r Result) Dropped() int {
	return r.Expired + r.Exhausted
}

// Queue persists pending operations in the local store
type Queue struct {
	ops        *localstore.Collection[models.PendingOperation]
	dispatcher Dispatcher
	journal    journal.Recorder
	notifier   notify.Notifier
	logger     *zap.Logger
	now        func() time.Time
	deviceID   string

	replayMu sync.Mutex
}

// Option configures a Queue
type Option func(*Queue)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithJournal records replay outcomes
func WithJournal(r journal.Recorder) Option {
	return func(q *Queue) { q.journal = r }
}

// WithNotifier reports dropped operations
func WithNotifier(n notify.Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

// WithDeviceID tags journal events
func WithDeviceID(id string) Option {
	return func(q *Queue) { q.deviceID = id }
}

// New creates a queue stored in store
func New(store *localstore.Store, dispatcher Dispatcher, logger *zap.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		ops:        localstore.NewCollection[models.PendingOperation](store, localstore.KeyPending),
		dispatcher: dispatcher,
		journal:    journal.Nop{},
		notifier:   notify.Nop{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends a new operation with the JSON encoding of payload
func (q *Queue) Enqueue(table models.Table, operation models.Operation, payload any) (models.PendingOperation, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.PendingOperation{}, fmt.Errorf("failed to encode %s %s payload: %w", operation, table, err)
	}

	op := models.PendingOperation{
		ID:         uuid.NewString(),
		Table:      table,
		Operation:  operation,
		Payload:    data,
		EnqueuedAt: q.now(),
	}
	q.ops.Update(func(ops []models.PendingOperation) []models.PendingOperation {
		return append(ops, op)
	})

	q.logger.Info("Queued remote operation",
		zap.String("id", op.ID),
		zap.String("table", string(table)),
		zap.String("operation", string(operation)),
	)
	return op, nil
}

// Pending returns the queued operations in insertion order
func (q *Queue) Pending() []models.PendingOperation {
	return q.ops.All()
}

// Len returns the number of queued operations
func (q *Queue) Len() int {
	return len(q.ops.All())
}

// Clear drops every queued operation
func (q *Queue) Clear() {
	q.ops.Clear()
}

type outcome int

const (
	outcomeKeep outcome = iota
	outcomeRemove
	outcomeRetry
)

// ReplayAll runs one pass over the queue. Operations enqueued while the pass
// is dispatching are kept as they are.
func (q *Queue) ReplayAll(ctx context.Context) Result {
	q.replayMu.Lock()
	defer q.replayMu.Unlock()

	var (
		result   Result
		events   []journal.Event
		outcomes = make(map[string]outcome)
		retried  = make(map[string]models.PendingOperation)
	)

	for _, op := range q.ops.All() {
		now := q.now()

		switch {
		case now.Sub(op.EnqueuedAt) > MaxAge:
			result.Expired++
			outcomes[op.ID] = outcomeRemove
			events = append(events, q.drop(op, journal.OutcomeExpired))
			continue
		case op.RetryCount >= MaxRetries:
			result.Exhausted++
			outcomes[op.ID] = outcomeRemove
			events = append(events, q.drop(op, journal.OutcomeExhausted))
			continue
		case op.LastAttemptAt != nil && now.Sub(*op.LastAttemptAt) < time.Duration(op.RetryCount)*BackoffStep:
			result.Deferred++
			continue
		}

		if err := q.dispatcher.Dispatch(ctx, op); err != nil {
			attempt := q.now()
			op.RetryCount++
			op.LastAttemptAt = &attempt
			retried[op.ID] = op
			outcomes[op.ID] = outcomeRetry
			result.Failed++

			q.logger.Debug("Replay failed",
				zap.String("id", op.ID),
				zap.String("table", string(op.Table)),
				zap.Int("retry_count", op.RetryCount),
				zap.Error(err),
			)
			continue
		}

		outcomes[op.ID] = outcomeRemove
		result.Succeeded++
	}

	q.ops.Update(func(ops []models.PendingOperation) []models.PendingOperation {
		kept := make([]models.PendingOperation, 0, len(ops))
		for _, op := range ops {
			switch outcomes[op.ID] {
			case outcomeRemove:
				continue
			case outcomeRetry:
				kept = append(kept, retried[op.ID])
			default:
				kept = append(kept, op)
			}
		}
		return kept
	})

	if result.Succeeded > 0 || result.Failed > 0 {
		q.logger.Info("Replayed pending operations",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Int("deferred", result.Deferred),
		)
		events = append(events,
			q.event(journal.KindReplay, journal.OutcomeSucceeded, result.Succeeded),
			q.event(journal.KindReplay, journal.OutcomeFailed, result.Failed),
		)
	}
	q.report(ctx, events)

	if dropped := result.Dropped(); dropped > 0 {
		q.notifier.Notify(ctx, fmt.Sprintf("%d offline change(s) could not be synced and were discarded", dropped))
	}
	return result
}

func (q *Queue) drop(op models.PendingOperation, reason string) journal.Event {
	q.logger.Warn("Dropping pending operation",
		zap.String("id", op.ID),
		zap.String("table", string(op.Table)),
		zap.String("operation", string(op.Operation)),
		zap.String("reason", reason),
		zap.Int("retry_count", op.RetryCount),
		zap.Time("enqueued_at", op.EnqueuedAt),
	)
	e := q.event(journal.KindDrop, reason, 1)
	e.Table = op.Table
	e.Operation = op.Operation
	e.Detail = op.ID
	return e
}

func (q *Queue) event(kind journal.Kind, outcome string, count int) journal.Event {
	return journal.Event{
		At:       q.now(),
		DeviceID: q.deviceID,
		Kind:     kind,
		Outcome:  outcome,
		Count:    count,
	}
}

func (q *Queue) report(ctx context.Context, events []journal.Event) {
	if len(events) == 0 {
		return
	}
	if err := q.journal.Record(ctx, events...); err != nil {
		q.logger.Warn("Failed to write sync journal", zap.Error(err))
	}
}
