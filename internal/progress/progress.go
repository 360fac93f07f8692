// Package progress keeps per-listener playback positions.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"readaloud/internal/localstore"
	"readaloud/internal/models"
	"readaloud/internal/retryqueue"
	"readaloud/internal/storage"
	"readaloud/internal/syncer"
)

// ErrNoListener is returned when a call is made without a listener
var ErrNoListener = errors.New("listener is required")

// Service stores progress locally and mirrors it to the remote store
type Service struct {
	gw     storage.Gateway
	queue  *retryqueue.Queue
	items  *localstore.Collection[models.ChapterProgress]
	logger *zap.Logger
	now    func() time.Time
}

// New creates a progress service
func New(store *localstore.Store, gw storage.Gateway, queue *retryqueue.Queue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gw:     gw,
		queue:  queue,
		items:  localstore.NewCollection[models.ChapterProgress](store, localstore.KeyProgress),
		logger: logger,
		now:    time.Now,
	}
}

// Save records the position of listener in chapterID
func (s *Service) Save(ctx context.Context, listener models.ListenerID, chapterID, recordingID string, currentTime, duration float64) (models.ChapterProgress, error) {
	if listener == "" {
		return models.ChapterProgress{}, ErrNoListener
	}

	p := models.ChapterProgress{
		ListenerID:  listener,
		ChapterID:   chapterID,
		RecordingID: recordingID,
		CurrentTime: currentTime,
		Duration:    duration,
		Completed:   models.IsCompleted(currentTime, duration),
		LastPlayed:  s.now(),
	}
	s.items.Upsert(p)

	if s.gw.Available() {
		if err := s.gw.Progress().Upsert(ctx, p); err != nil {
			s.logger.Warn("Failed to save progress remotely, queuing",
				zap.String("listener_id", string(listener)),
				zap.String("chapter_id", chapterID),
				zap.Error(err),
			)
			if _, err := s.queue.Enqueue(models.TableProgress, models.OpInsert, p); err != nil {
				return p, fmt.Errorf("failed to queue progress: %w", err)
			}
		}
	}
	return p, nil
}

// Get returns the progress of listener in chapterID
func (s *Service) Get(listener models.ListenerID, chapterID string) (models.ChapterProgress, bool) {
	return s.items.Get(models.ChapterProgress{ListenerID: listener, ChapterID: chapterID}.Key())
}

// ForRecording returns the most recent progress of listener on recordingID
func (s *Service) ForRecording(listener models.ListenerID, recordingID string) (models.ChapterProgress, bool) {
	var (
		latest models.ChapterProgress
		found  bool
	)
	for _, p := range s.items.All() {
		if p.ListenerID != listener || p.RecordingID != recordingID {
			continue
		}
		if !found || p.LastPlayed.After(latest.LastPlayed) {
			latest, found = p, true
		}
	}
	return latest, found
}

// ForListener returns every progress entry of listener
func (s *Service) ForListener(listener models.ListenerID) []models.ChapterProgress {
	var out []models.ChapterProgress
	for _, p := range s.items.All() {
		if p.ListenerID == listener {
			out = append(out, p)
		}
	}
	return out
}

// Completed reports whether listener finished chapterID
func (s *Service) Completed(listener models.ListenerID, chapterID string) bool {
	p, ok := s.Get(listener, chapterID)
	return ok && p.Completed
}

// Sync pushes local progress and merges the remote entries back, remote first
func (s *Service) Sync(ctx context.Context) error {
	if !s.gw.Available() {
		return nil
	}

	if local := s.items.All(); len(local) > 0 {
		if err := s.gw.Progress().UpsertBatch(ctx, local); err != nil {
			return fmt.Errorf("failed to push progress: %w", err)
		}
	}

	remote, err := s.gw.Progress().List(ctx)
	if err != nil {
		return fmt.Errorf("failed to pull progress: %w", err)
	}
	s.items.Update(func(local []models.ChapterProgress) []models.ChapterProgress {
		return syncer.Merge(remote, local)
	})
	return nil
}
