// Package scheduler runs background sync and queue replay on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"readaloud/internal/retryqueue"
	"readaloud/internal/syncer"
)

// Engine is the part of the sync engine the scheduler drives
type Engine interface {
	SyncFromRemote(ctx context.Context) syncer.SyncResult
	ProcessPendingOperations(ctx context.Context) retryqueue.Result
}

// ProgressSyncer mirrors listener progress after each full sync
type ProgressSyncer interface {
	Sync(ctx context.Context) error
}

// Config holds the cron expressions. An empty expression disables that job.
type Config struct {
	SyncSchedule   string
	ReplaySchedule string
}

// SyncScheduler owns the cron runner
type SyncScheduler struct {
	engine   Engine
	progress ProgressSyncer
	cfg      Config
	logger   *zap.Logger

	cron      *cron.Cron
	mu        sync.RWMutex
	syncEntry cron.EntryID
	isRunning bool
	cancel    context.CancelFunc
}

// New creates a scheduler; progress may be nil
func New(engine Engine, progress ProgressSyncer, cfg Config, logger *zap.Logger) *SyncScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncScheduler{
		engine:   engine,
		progress: progress,
		cfg:      cfg,
		logger:   logger,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
}

// Start registers the jobs and starts the cron runner. Jobs receive a context
// that is cancelled by Stop or when ctx is done.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	jobCtx, cancel := context.WithCancel(ctx)

	if s.cfg.SyncSchedule != "" {
		id, err := s.cron.AddFunc(s.cfg.SyncSchedule, func() { s.runSync(jobCtx) })
		if err != nil {
			cancel()
			return fmt.Errorf("invalid sync schedule %q: %w", s.cfg.SyncSchedule, err)
		}
		s.syncEntry = id
	}
	if s.cfg.ReplaySchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.ReplaySchedule, func() { s.runReplay(jobCtx) }); err != nil {
			cancel()
			s.cron.Remove(s.syncEntry)
			s.syncEntry = 0
			return fmt.Errorf("invalid replay schedule %q: %w", s.cfg.ReplaySchedule, err)
		}
	}

	s.cancel = cancel
	s.cron.Start()
	s.isRunning = true

	s.logger.Info("Sync scheduler started",
		zap.String("sync_schedule", s.cfg.SyncSchedule),
		zap.String("replay_schedule", s.cfg.ReplaySchedule),
	)

	go func() {
		<-jobCtx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for running jobs and stops the runner
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.cancel()
	<-s.cron.Stop().Done()
	for _, entry := range s.cron.Entries() {
		s.cron.Remove(entry.ID)
	}

	s.isRunning = false
	s.cancel = nil
	s.syncEntry = 0
	s.logger.Info("Sync scheduler stopped")
}

// IsRunning returns whether the scheduler is active
func (s *SyncScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextSync returns when the next full sync will run
func (s *SyncScheduler) NextSync() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || s.syncEntry == 0 {
		return nil
	}
	next := s.cron.Entry(s.syncEntry).Next
	return &next
}

// RunNow runs a full sync synchronously
func (s *SyncScheduler) RunNow(ctx context.Context) syncer.SyncResult {
	return s.runSync(ctx)
}

func (s *SyncScheduler) runSync(ctx context.Context) syncer.SyncResult {
	start := time.Now()
	result := s.engine.SyncFromRemote(ctx)
	if result.Skipped {
		return result
	}

	if s.progress != nil {
		if err := s.progress.Sync(ctx); err != nil {
			s.logger.Warn("Progress sync failed", zap.Error(err))
		}
	}

	s.logger.Info("Scheduled sync finished",
		zap.Duration("duration", time.Since(start)),
		zap.Int("replayed", result.Replay.Succeeded),
		zap.Int("push_failed", result.Push.Failed()),
		zap.Int("pull_failed", result.Pull.Failed()),
	)
	return result
}

func (s *SyncScheduler) runReplay(ctx context.Context) {
	result := s.engine.ProcessPendingOperations(ctx)
	if result.Succeeded > 0 || result.Dropped() > 0 {
		s.logger.Info("Scheduled replay finished",
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
			zap.Int("dropped", result.Dropped()),
		)
	}
}
