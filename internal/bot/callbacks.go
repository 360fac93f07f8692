package bot

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// handleForceCallback runs or cancels a confirmed resync
func (b *Bot) handleForceCallback(ctx context.Context, query *tgbotapi.CallbackQuery, answer string) {
	chatID := query.Message.Chat.ID
	if _, ok := b.takeState(query.From.ID, "force_resync"); !ok {
		b.reply(chatID, "This confirmation has expired. Use /force_resync again.")
		return
	}
	if answer != "yes" {
		b.reply(chatID, "Resync cancelled.")
		return
	}

	b.logger.Info("Force resync requested", zap.Int64("user_id", query.From.ID))
	b.reply(chatID, formatSync("Resync", b.deps.Sync.ForceResync(ctx)))
}

// handleReleaseCallback releases the lease at the given index of the last /locks listing
func (b *Bot) handleReleaseCallback(ctx context.Context, query *tgbotapi.CallbackQuery, index string) {
	chatID := query.Message.Chat.ID

	state, ok := b.takeState(query.From.ID, "locks")
	if !ok {
		b.reply(chatID, "This list has expired. Use /locks again.")
		return
	}
	i, err := strconv.Atoi(index)
	if err != nil || i < 0 || i >= len(state.Locks) {
		b.reply(chatID, "Unknown lock.")
		return
	}

	lock := state.Locks[i]
	b.deps.Locks.Release(ctx, lock.ChapterID, lock.ReaderID)
	b.logger.Info("Lock released from bot",
		zap.Int64("user_id", query.From.ID),
		zap.String("chapter_id", lock.ChapterID),
		zap.String("reader_id", lock.ReaderID),
	)
	b.reply(chatID, fmt.Sprintf("Released chapter %s held by %s.", lock.ChapterID, holderName(lock)))
}
