// Package notify sends short, non-blocking failure notices to the family chat.
package notify

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier delivers a notice without blocking the caller
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Nop drops every notice
type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// sender is the part of the Telegram API used here
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

const queueSize = 32

// Telegram posts notices to one chat from a background goroutine.
// Notices are dropped when the queue is full.
type Telegram struct {
	api    sender
	chatID int64
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan string
	wg     sync.WaitGroup
}

// NewTelegram creates a notifier for chatID
func NewTelegram(token string, chatID int64, logger *zap.Logger) (*Telegram, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Error("Failed to create bot API", zap.Error(err))
		return nil, fmt.Errorf("failed to create telegram notifier: %w", err)
	}
	logger.Info("Telegram notifier created", zap.String("bot_username", api.Self.UserName))
	return newTelegram(api, chatID, logger), nil
}

func newTelegram(api sender, chatID int64, logger *zap.Logger) *Telegram {
	t := &Telegram{
		api:    api,
		chatID: chatID,
		logger: logger,
		queue:  make(chan string, queueSize),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// Notify queues text for delivery
func (t *Telegram) Notify(_ context.Context, text string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- text:
	default:
		t.logger.Warn("Notification queue full, dropping notice", zap.String("text", text))
	}
}

// Close flushes queued notices and stops the sender
func (t *Telegram) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Telegram) run() {
	defer t.wg.Done()
	for text := range t.queue {
		msg := tgbotapi.NewMessage(t.chatID, text)
		if _, err := t.api.Send(msg); err != nil {
			t.logger.Error("Failed to send notification", zap.Int64("chat_id", t.chatID), zap.Error(err))
		}
	}
}
