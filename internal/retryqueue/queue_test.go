package retryqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"readaloud/internal/journal"
	"readaloud/internal/localstore"
	"readaloud/internal/models"
	"readaloud/internal/storage/stubs"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingNotifier struct{ notices []string }

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.notices = append(n.notices, text)
}

type fixture struct {
	queue    *Queue
	gw       *stubs.MemoryGateway
	clock    *clock
	journal  *journal.Memory
	notifier *recordingNotifier
	store    *localstore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:       stubs.NewMemoryGateway(),
		clock:    &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		journal:  journal.NewMemory(),
		notifier: &recordingNotifier{},
		store:    localstore.New(localstore.NewMemoryKV(), "test", zap.NewNop()),
	}
	f.queue = New(f.store, NewGatewayDispatcher(f.gw), zap.NewNop(),
		WithClock(f.clock.now),
		WithJournal(f.journal),
		WithNotifier(f.notifier),
		WithDeviceID("tablet"),
	)
	return f
}

func TestQueue_EnqueuePersists(t *testing.T) {
	f := newFixture(t)

	op, err := f.queue.Enqueue(models.TableBooks, models.OpInsert, models.Book{ID: "b1", Title: "Pippi"})
	require.NoError(t, err)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, 0, op.RetryCount)
	assert.Nil(t, op.LastAttemptAt)
	assert.Equal(t, f.clock.t, op.EnqueuedAt)

	// A second queue on the same store sees the operation
	other := New(f.store, NewGatewayDispatcher(f.gw), nil)
	require.Equal(t, 1, other.Len())
	assert.Equal(t, op.ID, other.Pending()[0].ID)
}

func TestQueue_ReplaySucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(models.TableBooks, models.OpInsert, models.Book{ID: "b1"})
	require.NoError(t, err)
	_, err = f.queue.Enqueue(models.TableChapters, models.OpDelete, models.DeletePayload{Field: "book_id", Value: "b0"})
	require.NoError(t, err)

	result := f.queue.ReplayAll(ctx)

	assert.Equal(t, Result{Succeeded: 2}, result)
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, 1, f.gw.Count(models.TableBooks))
}

func TestQueue_BackoffGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(models.TableRecordings, models.OpInsert, models.Recording{ID: "r1"})
	require.NoError(t, err)
	f.gw.FailTable(models.TableRecordings, errors.New("timeout"))

	// First failure: retry_count 1, last attempt now
	assert.Equal(t, Result{Failed: 1}, f.queue.ReplayAll(ctx))
	op := f.queue.Pending()[0]
	assert.Equal(t, 1, op.RetryCount)
	require.NotNil(t, op.LastAttemptAt)
	assert.Equal(t, f.clock.t, *op.LastAttemptAt)

	// Within 30s the operation is not attempted
	f.clock.advance(29 * time.Second)
	assert.Equal(t, Result{Deferred: 1}, f.queue.ReplayAll(ctx))
	assert.Equal(t, 1, f.gw.Calls(models.TableRecordings))
	assert.Equal(t, 1, f.queue.Pending()[0].RetryCount)

	// After the gate it is attempted again, and the next gate doubles
	f.clock.advance(time.Second)
	assert.Equal(t, Result{Failed: 1}, f.queue.ReplayAll(ctx))
	assert.Equal(t, 2, f.queue.Pending()[0].RetryCount)

	f.clock.advance(59 * time.Second)
	assert.Equal(t, Result{Deferred: 1}, f.queue.ReplayAll(ctx))

	f.gw.ClearFailures()
	f.clock.advance(time.Second)
	assert.Equal(t, Result{Succeeded: 1}, f.queue.ReplayAll(ctx))
	assert.Equal(t, 0, f.queue.Len())
}

func TestQueue_Exhaustion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(models.TableUsers, models.OpInsert, models.User{ID: "u1", Role: models.RoleReader})
	require.NoError(t, err)
	f.gw.FailTable(models.TableUsers, errors.New("503"))

	for i := 1; i <= MaxRetries; i++ {
		result := f.queue.ReplayAll(ctx)
		require.Equal(t, 1, result.Failed, "attempt %d", i)
		f.clock.advance(time.Duration(i) * BackoffStep)
	}
	require.Equal(t, MaxRetries, f.queue.Pending()[0].RetryCount)
	calls := f.gw.Calls(models.TableUsers)

	result := f.queue.ReplayAll(ctx)

	assert.Equal(t, Result{Exhausted: 1}, result)
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, calls, f.gw.Calls(models.TableUsers), "exhausted operation must not be dispatched")
	require.Len(t, f.notifier.notices, 1)

	var drops []journal.Event
	for _, e := range f.journal.Events() {
		if e.Kind == journal.KindDrop {
			drops = append(drops, e)
		}
	}
	require.Len(t, drops, 1)
	assert.Equal(t, journal.OutcomeExhausted, drops[0].Outcome)
	assert.Equal(t, models.TableUsers, drops[0].Table)
	assert.Equal(t, "tablet", drops[0].DeviceID)
}

func TestQueue_Expiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(models.TableBooks, models.OpUpdate, models.Book{ID: "b1"})
	require.NoError(t, err)

	f.clock.advance(MaxAge + time.Second)
	result := f.queue.ReplayAll(ctx)

	assert.Equal(t, Result{Expired: 1}, result)
	assert.Equal(t, 0, f.queue.Len())
	assert.Equal(t, 0, f.gw.Calls(models.TableBooks))
}

func TestQueue_UnavailableGatewayCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	f.gw.SetAvailable(false)

	_, err := f.queue.Enqueue(models.TableRecordingLocks, models.OpDelete, models.DeletePayload{ID: "c1", ReaderID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, Result{Failed: 1}, f.queue.ReplayAll(context.Background()))
	assert.Equal(t, 1, f.queue.Pending()[0].RetryCount)
}

func TestQueue_KeepsOperationsEnqueuedDuringReplay(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.Enqueue(models.TableBooks, models.OpInsert, models.Book{ID: "b1"})
	require.NoError(t, err)

	f.queue.dispatcher = dispatcherFunc(func(ctx context.Context, op models.PendingOperation) error {
		_, err := f.queue.Enqueue(models.TableBooks, models.OpInsert, models.Book{ID: "b2"})
		require.NoError(t, err)
		return nil
	})

	result := f.queue.ReplayAll(context.Background())

	assert.Equal(t, 1, result.Succeeded)
	require.Equal(t, 1, f.queue.Len())
	assert.Contains(t, string(f.queue.Pending()[0].Payload), `"b2"`)
}

func TestQueue_Clear(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.Enqueue(models.TableBooks, models.OpInsert, models.Book{ID: "b1"})
	require.NoError(t, err)

	f.queue.Clear()
	assert.Equal(t, 0, f.queue.Len())
}

type dispatcherFunc func(ctx context.Context, op models.PendingOperation) error

func (f dispatcherFunc) Dispatch(ctx context.Context, op models.PendingOperation) error {
	return f(ctx, op)
}
