package pg

import (
	"github.com/jackc/pgx/v5"

	"readaloud/internal/models"
)

var booksTable = table[models.Book]{
	name:    models.TableBooks,
	keys:    1,
	columns: []string{"id", "family_id", "title", "author", "cover_url", "created_at"},
	values: func(b models.Book) []any {
		return []any{b.ID, b.FamilyID, b.Title, b.Author, b.CoverURL, b.CreatedAt}
	},
	scan: func(row pgx.Row) (models.Book, error) {
		var b models.Book
		err := row.Scan(&b.ID, &b.FamilyID, &b.Title, &b.Author, &b.CoverURL, &b.CreatedAt)
		return b, err
	},
}

var chaptersTable = table[models.Chapter]{
	name:    models.TableChapters,
	keys:    1,
	columns: []string{"id", "book_id", "chapter_number", "title", "created_at"},
	values: func(c models.Chapter) []any {
		return []any{c.ID, c.BookID, c.ChapterNumber, c.Title, c.CreatedAt}
	},
	scan: func(row pgx.Row) (models.Chapter, error) {
		var c models.Chapter
		err := row.Scan(&c.ID, &c.BookID, &c.ChapterNumber, &c.Title, &c.CreatedAt)
		return c, err
	},
}

var recordingsTable = table[models.Recording]{
	name:    models.TableRecordings,
	keys:    1,
	columns: []string{"id", "chapter_id", "reader_id", "audio_url", "duration_seconds", "created_at"},
	values: func(r models.Recording) []any {
		return []any{r.ID, r.ChapterID, r.ReaderID, r.AudioURL, r.DurationSeconds, r.CreatedAt}
	},
	scan: func(row pgx.Row) (models.Recording, error) {
		var r models.Recording
		err := row.Scan(&r.ID, &r.ChapterID, &r.ReaderID, &r.AudioURL, &r.DurationSeconds, &r.CreatedAt)
		return r, err
	},
}

var usersTable = table[models.User]{
	name:    models.TableUsers,
	keys:    1,
	columns: []string{"id", "family_id", "name", "avatar_url", "role", "invite_code", "created_at"},
	values: func(u models.User) []any {
		return []any{u.ID, u.FamilyID, u.Name, u.AvatarURL, string(u.Role), u.InviteCode, u.CreatedAt}
	},
	scan: func(row pgx.Row) (models.User, error) {
		var (
			u    models.User
			role string
		)
		err := row.Scan(&u.ID, &u.FamilyID, &u.Name, &u.AvatarURL, &role, &u.InviteCode, &u.CreatedAt)
		u.Role = models.Role(role)
		return u, err
	},
}

var progressTable = table[models.ChapterProgress]{
	name: models.TableProgress,
	keys: 2,
	columns: []string{
		"listener_id", "chapter_id", "recording_id", "current_time", "duration", "completed", "last_played",
	},
	values: func(p models.ChapterProgress) []any {
		return []any{
			string(p.ListenerID), p.ChapterID, p.RecordingID, p.CurrentTime, p.Duration, p.Completed, p.LastPlayed,
		}
	},
	scan: func(row pgx.Row) (models.ChapterProgress, error) {
		var (
			p        models.ChapterProgress
			listener string
		)
		err := row.Scan(&listener, &p.ChapterID, &p.RecordingID, &p.CurrentTime, &p.Duration, &p.Completed, &p.LastPlayed)
		p.ListenerID = models.ListenerID(listener)
		return p, err
	},
}

var locksTable = table[models.RecordingLock]{
	name:    models.TableRecordingLocks,
	keys:    2,
	columns: []string{"chapter_id", "reader_id", "reader_name", "locked_at", "expires_at"},
	values: func(l models.RecordingLock) []any {
		return []any{l.ChapterID, l.ReaderID, l.ReaderName, l.LockedAt, l.ExpiresAt}
	},
	scan: func(row pgx.Row) (models.RecordingLock, error) {
		var l models.RecordingLock
		err := row.Scan(&l.ChapterID, &l.ReaderID, &l.ReaderName, &l.LockedAt, &l.ExpiresAt)
		return l, err
	},
}
