package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"readaloud/internal/models"
)

// ErrNotFound is returned for writes that reference a missing local record
var ErrNotFound = errors.New("not found")

// Books returns the local books
func (e *Engine) Books() []models.Book {
	return e.books.All()
}

// Users returns the local family members
func (e *Engine) Users() []models.User {
	return e.users.All()
}

// ChaptersForBook returns the chapters of bookID ordered by number
func (e *Engine) ChaptersForBook(bookID string) []models.Chapter {
	var chapters []models.Chapter
	for _, c := range e.chapters.All() {
		if c.BookID == bookID {
			chapters = append(chapters, c)
		}
	}
	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].ChapterNumber < chapters[j].ChapterNumber
	})
	return chapters
}

// Chapter returns the local chapter with id
func (e *Engine) Chapter(id string) (models.Chapter, bool) {
	return e.chapters.Get(id)
}

// RecordingsForChapter returns the recordings of chapterID
func (e *Engine) RecordingsForChapter(chapterID string) []models.Recording {
	var recordings []models.Recording
	for _, r := range e.recordings.All() {
		if r.ChapterID == chapterID {
			recordings = append(recordings, r)
		}
	}
	return recordings
}

// NextChapterNumber returns one more than the highest chapter number of
// bookID, or 1 for a book without chapters. Two offline devices can hand out
// the same number.
func (e *Engine) NextChapterNumber(bookID string) int {
	highest := 0
	for _, c := range e.chapters.All() {
		if c.BookID == bookID && c.ChapterNumber > highest {
			highest = c.ChapterNumber
		}
	}
	return highest + 1
}

// CreateBook stores a new book, assigning an id and creation time when missing
func (e *Engine) CreateBook(ctx context.Context, book models.Book) models.Book {
	if book.ID == "" {
		book.ID = uuid.NewString()
	}
	if book.CreatedAt.IsZero() {
		book.CreatedAt = e.now()
	}
	e.books.Upsert(book)

	e.remote(ctx, models.TableBooks, models.OpInsert, book, func(ctx context.Context) error {
		return e.gw.Books().Upsert(ctx, book)
	})
	return book
}

// UpdateBook replaces an existing book
func (e *Engine) UpdateBook(ctx context.Context, book models.Book) error {
	if _, ok := e.books.Get(book.ID); !ok {
		return fmt.Errorf("book %s: %w", book.ID, ErrNotFound)
	}
	e.books.Upsert(book)

	e.remote(ctx, models.TableBooks, models.OpUpdate, book, func(ctx context.Context) error {
		return e.gw.Books().Update(ctx, book)
	})
	return nil
}

// DeleteBook removes a book with its chapters and their recordings
func (e *Engine) DeleteBook(ctx context.Context, bookID string) {
	chapterIDs := make(map[string]struct{})
	e.chapters.RemoveWhere(func(c models.Chapter) bool {
		if c.BookID != bookID {
			return false
		}
		chapterIDs[c.ID] = struct{}{}
		return true
	})
	removed := e.removeRecordings(func(r models.Recording) bool {
		_, ok := chapterIDs[r.ChapterID]
		return ok
	})
	e.books.Remove(bookID)

	e.logger.Info("Deleted book",
		zap.String("book_id", bookID),
		zap.Int("chapters", len(chapterIDs)),
		zap.Int("recordings", len(removed)),
	)

	for chapterID := range chapterIDs {
		e.remoteDeleteWhere(ctx, models.TableRecordings, "chapter_id", chapterID)
	}
	e.remoteDeleteWhere(ctx, models.TableChapters, "book_id", bookID)
	e.remote(ctx, models.TableBooks, models.OpDelete, models.DeletePayload{ID: bookID}, func(ctx context.Context) error {
		return e.gw.Books().Delete(ctx, bookID)
	})
	e.deleteBlobs(ctx, removed)
}

// CreateChapter appends a chapter to bookID with the next free number
func (e *Engine) CreateChapter(ctx context.Context, bookID, title string) (models.Chapter, error) {
	if _, ok := e.books.Get(bookID); !ok {
		return models.Chapter{}, fmt.Errorf("book %s: %w", bookID, ErrNotFound)
	}

	chapter := models.Chapter{
		ID:            uuid.NewString(),
		BookID:        bookID,
		ChapterNumber: e.NextChapterNumber(bookID),
		Title:         title,
		CreatedAt:     e.now(),
	}
	e.chapters.Upsert(chapter)

	e.remote(ctx, models.TableChapters, models.OpInsert, chapter, func(ctx context.Context) error {
		return e.gw.Chapters().Upsert(ctx, chapter)
	})
	return chapter, nil
}

// DeleteChapter removes a chapter and its recordings
func (e *Engine) DeleteChapter(ctx context.Context, chapterID string) {
	removed := e.removeRecordings(func(r models.Recording) bool {
		return r.ChapterID == chapterID
	})
	e.chapters.Remove(chapterID)

	e.remoteDeleteWhere(ctx, models.TableRecordings, "chapter_id", chapterID)
	e.remote(ctx, models.TableChapters, models.OpDelete, models.DeletePayload{ID: chapterID}, func(ctx context.Context) error {
		return e.gw.Chapters().Delete(ctx, chapterID)
	})
	e.deleteBlobs(ctx, removed)
}

// SaveRecording stores a recording, assigning an id and creation time when missing
func (e *Engine) SaveRecording(ctx context.Context, rec models.Recording) models.Recording {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = e.now()
	}
	e.recordings.Upsert(rec)

	e.remote(ctx, models.TableRecordings, models.OpInsert, rec, func(ctx context.Context) error {
		return e.gw.Recordings().Upsert(ctx, rec)
	})
	return rec
}

// DeleteRecording removes a recording and its audio
func (e *Engine) DeleteRecording(ctx context.Context, recordingID string) {
	removed := e.removeRecordings(func(r models.Recording) bool {
		return r.ID == recordingID
	})

	e.remote(ctx, models.TableRecordings, models.OpDelete, models.DeletePayload{ID: recordingID}, func(ctx context.Context) error {
		return e.gw.Recordings().Delete(ctx, recordingID)
	})
	e.deleteBlobs(ctx, removed)
}

// SaveUser stores a family member
func (e *Engine) SaveUser(ctx context.Context, user models.User) models.User {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = e.now()
	}
	e.users.Upsert(user)

	e.remote(ctx, models.TableUsers, models.OpInsert, user, func(ctx context.Context) error {
		return e.gw.Users().Upsert(ctx, user)
	})
	return user
}

func (e *Engine) removeRecordings(pred func(models.Recording) bool) []models.Recording {
	var removed []models.Recording
	e.recordings.RemoveWhere(func(r models.Recording) bool {
		if pred(r) {
			removed = append(removed, r)
			return true
		}
		return false
	})
	return removed
}

func (e *Engine) deleteBlobs(ctx context.Context, recordings []models.Recording) {
	if e.blobs == nil {
		return
	}
	for _, r := range recordings {
		if r.AudioURL == "" {
			continue
		}
		if !e.blobs.Delete(ctx, r.ID, r.AudioURL) {
			e.logger.Debug("Audio not deleted", zap.String("recording_id", r.ID))
		}
	}
}

func (e *Engine) remoteDeleteWhere(ctx context.Context, table models.Table, field, value string) {
	payload := models.DeletePayload{Field: field, Value: value}
	e.remote(ctx, table, models.OpDelete, payload, func(ctx context.Context) error {
		switch table {
		case models.TableChapters:
			return e.gw.Chapters().DeleteWhere(ctx, field, value)
		case models.TableRecordings:
			return e.gw.Recordings().DeleteWhere(ctx, field, value)
		}
		return fmt.Errorf("delete by %s not supported on %s", field, table)
	})
}

// remote attempts call when the gateway is available and queues payload on failure.
// Without a gateway the write stays local until the next push.
func (e *Engine) remote(ctx context.Context, table models.Table, op models.Operation, payload any, call func(context.Context) error) {
	if !e.gw.Available() {
		return
	}
	err := call(ctx)
	if err == nil {
		return
	}

	e.logger.Warn("Remote write failed, queuing for retry",
		zap.String("table", string(table)),
		zap.String("operation", string(op)),
		zap.Error(err),
	)
	if _, qerr := e.queue.Enqueue(table, op, payload); qerr != nil {
		e.logger.Error("Failed to queue remote write", zap.String("table", string(table)), zap.Error(qerr))
	}
}
