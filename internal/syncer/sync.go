package syncer

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"readaloud/internal/journal"
	"readaloud/internal/localstore"
	"readaloud/internal/models"
	"readaloud/internal/retryqueue"
	"readaloud/internal/storage"
)

// SyncToRemote upserts the whole local book, chapter and recording
// collections, in that order. A failing collection does not stop the others.
func (e *Engine) SyncToRemote(ctx context.Context) PushResult {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	if !e.gw.Available() {
		return PushResult{Skipped: true}
	}
	result := e.push(ctx)
	e.report(ctx, journal.KindPush, result.Collections)
	return result
}

// ProcessPendingOperations replays the retry queue.
// Nothing is attempted while the gateway is unavailable.
func (e *Engine) ProcessPendingOperations(ctx context.Context) retryqueue.Result {
	if !e.gw.Available() {
		return retryqueue.Result{}
	}
	return e.queue.ReplayAll(ctx)
}

// SyncFromRemote runs push, replay, pull and orphan cleanup strictly in that
// order so that local changes reach the remote before remote state replaces them.
func (e *Engine) SyncFromRemote(ctx context.Context) SyncResult {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	if !e.gw.Available() {
		e.logger.Debug("Remote store not configured, skipping sync")
		return SyncResult{Skipped: true}
	}

	var result SyncResult
	result.Push = e.push(ctx)
	result.Replay = e.queue.ReplayAll(ctx)
	result.Pull = e.pull(ctx)
	result.Cleanup = e.CleanupOrphans()

	e.report(ctx, journal.KindPush, result.Push.Collections)
	e.report(ctx, journal.KindPull, result.Pull.Collections)

	e.logger.Info("Sync completed",
		zap.Int("push_failed", result.Push.Failed()),
		zap.Int("replayed", result.Replay.Succeeded),
		zap.Int("replay_failed", result.Replay.Failed),
		zap.Int("pull_failed", result.Pull.Failed()),
		zap.Int("orphan_chapters", result.Cleanup.Chapters),
		zap.Int("orphan_recordings", result.Cleanup.Recordings),
	)
	return result
}

// ForceResync discards the local library and pulls everything again.
// Local changes that were never pushed are lost. The retry queue is kept.
func (e *Engine) ForceResync(ctx context.Context) SyncResult {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()

	if !e.gw.Available() {
		return SyncResult{Skipped: true}
	}

	e.logger.Warn("Forcing full resync, clearing local library")
	e.books.Clear()
	e.chapters.Clear()
	e.recordings.Clear()
	e.users.Clear()

	var result SyncResult
	result.Pull = e.pull(ctx)
	result.Cleanup = e.CleanupOrphans()
	e.report(ctx, journal.KindPull, result.Pull.Collections)
	return result
}

func (e *Engine) push(ctx context.Context) PushResult {
	return PushResult{Collections: []CollectionResult{
		pushCollection(ctx, e, models.TableBooks, e.books, e.gw.Books()),
		pushCollection(ctx, e, models.TableChapters, e.chapters, e.gw.Chapters()),
		pushCollection(ctx, e, models.TableRecordings, e.recordings, e.gw.Recordings()),
	}}
}

func pushCollection[T models.Entity](ctx context.Context, e *Engine, table models.Table, local *localstore.Collection[T], repo storage.Repository[T]) CollectionResult {
	items := local.All()
	result := CollectionResult{Table: table, Count: len(items)}
	if len(items) == 0 {
		return result
	}
	if err := repo.UpsertBatch(ctx, items); err != nil {
		e.logger.Warn("Failed to push collection",
			zap.String("table", string(table)),
			zap.Int("items", len(items)),
			zap.Error(err),
		)
		result.Error = err.Error()
	}
	return result
}

// fetched holds the outcome of one remote List call
type fetched[T models.Entity] struct {
	items []T
	err   error
}

func fetch[T models.Entity](ctx context.Context, g *errgroup.Group, repo storage.Repository[T]) *fetched[T] {
	f := &fetched[T]{}
	g.Go(func() error {
		f.items, f.err = repo.List(ctx)
		return nil
	})
	return f
}

// pull fetches the remote collections concurrently and merges them into the
// local store in dependency order. A failed fetch leaves that collection alone.
func (e *Engine) pull(ctx context.Context) PullResult {
	var g errgroup.Group
	books := fetch(ctx, &g, e.gw.Books())
	chapters := fetch(ctx, &g, e.gw.Chapters())
	recordings := fetch(ctx, &g, e.gw.Recordings())
	users := fetch(ctx, &g, e.gw.Users())
	_ = g.Wait()

	return PullResult{Collections: []CollectionResult{
		mergeCollection(e, models.TableBooks, e.books, books),
		mergeCollection(e, models.TableChapters, e.chapters, chapters),
		mergeCollection(e, models.TableRecordings, e.recordings, recordings),
		mergeCollection(e, models.TableUsers, e.users, users),
	}}
}

func mergeCollection[T models.Entity](e *Engine, table models.Table, local *localstore.Collection[T], remote *fetched[T]) CollectionResult {
	if remote.err != nil {
		e.logger.Warn("Failed to pull collection", zap.String("table", string(table)), zap.Error(remote.err))
		return CollectionResult{Table: table, Error: remote.err.Error()}
	}

	var merged []T
	local.Update(func(items []T) []T {
		merged = Merge(remote.items, items)
		return merged
	})
	return CollectionResult{Table: table, Count: len(merged)}
}

// Merge returns remote followed by the local items whose key is not in remote.
// Remote wins on a key clash.
func Merge[T models.Entity](remote, local []T) []T {
	seen := make(map[string]struct{}, len(remote))
	merged := make([]T, 0, len(remote)+len(local))
	for _, item := range remote {
		seen[item.Key()] = struct{}{}
		merged = append(merged, item)
	}
	for _, item := range local {
		if _, ok := seen[item.Key()]; !ok {
			merged = append(merged, item)
		}
	}
	return merged
}
