// Package bot is a Telegram command bot for operating the sync service.
package bot

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"readaloud/internal/journal"
	"readaloud/internal/models"
	"readaloud/internal/retryqueue"
	"readaloud/internal/syncer"
)

// telegramAPI is the part of tgbotapi.BotAPI the bot uses
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// SyncService runs the sync entry points
type SyncService interface {
	Available() bool
	SyncFromRemote(ctx context.Context) syncer.SyncResult
	ProcessPendingOperations(ctx context.Context) retryqueue.Result
	ForceResync(ctx context.Context) syncer.SyncResult
}

// LockService lists and releases recording leases
type LockService interface {
	ActiveLocks(ctx context.Context) []models.RecordingLock
	Release(ctx context.Context, chapterID, readerID string)
}

// Deps are the services the bot drives. Journal may be nil.
type Deps struct {
	Sync    SyncService
	Locks   LockService
	Queue   interface{ Len() int }
	Journal journal.Reader
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          telegramAPI
	deps         Deps
	allowedUsers map[int64]bool
	logger       *zap.Logger

	states   map[int64]*ConversationState
	statesMu sync.Mutex
}

// ConversationState remembers what a user was last offered to click
type ConversationState struct {
	Command string
	// Locks backs the release buttons, which carry an index because
	// callback data is limited to 64 bytes
	Locks []models.RecordingLock
}
