package syncer

import (
	"go.uber.org/zap"

	"readaloud/internal/models"
)

// CleanupOrphans removes chapters whose book is gone, then recordings whose
// chapter is gone. It only touches the local store and is idempotent.
func (e *Engine) CleanupOrphans() CleanupResult {
	var result CleanupResult

	books := keySet(e.books.All())
	result.Chapters = e.chapters.RemoveWhere(func(c models.Chapter) bool {
		_, ok := books[c.BookID]
		return !ok
	})

	chapters := keySet(e.chapters.All())
	result.Recordings = e.recordings.RemoveWhere(func(r models.Recording) bool {
		_, ok := chapters[r.ChapterID]
		return !ok
	})

	if result.Chapters > 0 || result.Recordings > 0 {
		e.logger.Info("Removed orphaned records",
			zap.Int("chapters", result.Chapters),
			zap.Int("recordings", result.Recordings),
		)
	}
	return result
}

func keySet[T models.Entity](items []T) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item.Key()] = struct{}{}
	}
	return set
}
