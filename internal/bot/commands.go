package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"readaloud/internal/models"
	"readaloud/internal/retryqueue"
	"readaloud/internal/syncer"
)

const recentEvents = 5

// handleStart shows welcome message and available commands
func (b *Bot) handleStart(message *tgbotapi.Message) {
	text := `Read-aloud sync bot

Available commands:
/status - Remote store, queue and recent sync activity
/sync - Push, replay and pull now
/pending - Replay queued writes
/force_resync - Rebuild the local library from the remote store
/locks - Show and release recording locks`

	b.reply(message.Chat.ID, text)
}

// handleStatus reports availability, queue length and recent journal events
func (b *Bot) handleStatus(ctx context.Context, message *tgbotapi.Message) {
	var sb strings.Builder

	remote := "offline"
	if b.deps.Sync.Available() {
		remote = "available"
	}
	fmt.Fprintf(&sb, "Remote store: %s\n", remote)
	fmt.Fprintf(&sb, "Pending writes: %d\n", b.deps.Queue.Len())

	if b.deps.Journal != nil {
		events, err := b.deps.Journal.Recent(ctx, recentEvents)
		if err != nil {
			fmt.Fprintf(&sb, "\nJournal unavailable: %v", err)
		} else if len(events) > 0 {
			sb.WriteString("\nRecent activity:\n")
			for _, e := range events {
				fmt.Fprintf(&sb, "%s %s %s %s (%d)\n", e.At.Format("01-02 15:04"), e.Kind, e.Table, e.Outcome, e.Count)
			}
		}
	}

	b.reply(message.Chat.ID, strings.TrimRight(sb.String(), "\n"))
}

// handleSync runs a full sync pass
func (b *Bot) handleSync(ctx context.Context, message *tgbotapi.Message) {
	b.reply(message.Chat.ID, formatSync("Sync", b.deps.Sync.SyncFromRemote(ctx)))
}

// handlePending replays the retry queue
func (b *Bot) handlePending(ctx context.Context, message *tgbotapi.Message) {
	if !b.deps.Sync.Available() {
		b.reply(message.Chat.ID, "Remote store is offline, nothing was replayed.")
		return
	}
	b.reply(message.Chat.ID, formatReplay(b.deps.Sync.ProcessPendingOperations(ctx)))
}

// handleForceResyncStart asks for confirmation before wiping local collections
func (b *Bot) handleForceResyncStart(message *tgbotapi.Message) {
	b.setState(message.From.ID, &ConversationState{Command: "force_resync"})

	msg := tgbotapi.NewMessage(message.Chat.ID, "This replaces the local library with the remote copy. Continue?")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, resync", callbackForce+"yes"),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", callbackForce+"no"),
		),
	)
	b.sendMessage(msg)
}

// handleLocks lists active leases with a release button each
func (b *Bot) handleLocks(ctx context.Context, message *tgbotapi.Message) {
	active := b.deps.Locks.ActiveLocks(ctx)
	if len(active) == 0 {
		b.reply(message.Chat.ID, "No chapter is being recorded.")
		return
	}

	b.setState(message.From.ID, &ConversationState{Command: "locks", Locks: active})

	var sb strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, l := range active {
		fmt.Fprintf(&sb, "%d. Chapter %s: %s until %s\n", i+1, l.ChapterID, holderName(l), l.ExpiresAt.Format(time.Kitchen))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Release %d", i+1), fmt.Sprintf("%s%d", callbackRelease, i)),
		))
	}

	msg := tgbotapi.NewMessage(message.Chat.ID, strings.TrimRight(sb.String(), "\n"))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.sendMessage(msg)
}

func (b *Bot) setState(userID int64, state *ConversationState) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	b.states[userID] = state
}

// takeState returns and clears the state of userID when it belongs to command
func (b *Bot) takeState(userID int64, command string) (*ConversationState, bool) {
	b.statesMu.Lock()
	defer b.statesMu.Unlock()
	state, ok := b.states[userID]
	if !ok || state.Command != command {
		return nil, false
	}
	delete(b.states, userID)
	return state, true
}

func holderName(l models.RecordingLock) string {
	if l.ReaderName != "" {
		return l.ReaderName
	}
	return l.ReaderID
}

func formatSync(title string, r syncer.SyncResult) string {
	if r.Skipped {
		return title + " skipped: remote store is offline."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s finished.\n", title)
	fmt.Fprintf(&sb, "Pushed collections failed: %d\n", r.Push.Failed())
	fmt.Fprintf(&sb, "Replayed: %d ok, %d failed, %d dropped\n", r.Replay.Succeeded, r.Replay.Failed, r.Replay.Dropped())
	fmt.Fprintf(&sb, "Pulled collections failed: %d\n", r.Pull.Failed())
	fmt.Fprintf(&sb, "Orphans removed: %d chapters, %d recordings", r.Cleanup.Chapters, r.Cleanup.Recordings)
	return sb.String()
}

func formatReplay(r retryqueue.Result) string {
	return fmt.Sprintf("Replayed: %d ok, %d failed, %d deferred, %d dropped",
		r.Succeeded, r.Failed, r.Deferred, r.Dropped())
}
