package models

import "time"

// Table names a remote collection
type Table string

const (
	TableBooks          Table = "books"
	TableChapters       Table = "chapters"
	TableRecordings     Table = "recordings"
	TableUsers          Table = "users"
	TableProgress       Table = "progress"
	TableRecordingLocks Table = "recording_locks"
)

// Entity is implemented by every record that lives in a keyed collection
type Entity interface {
	Key() string
}

// Book represents a book owned by a family
type Book struct {
	ID        string    `json:"id"`
	FamilyID  string    `json:"family_id"`
	Title     string    `json:"title"`
	Author    string    `json:"author,omitempty"`
	CoverURL  string    `json:"cover_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (b Book) Key() string { return b.ID }

// Chapter is a numbered part of a book
type Chapter struct {
	ID            string    `json:"id"`
	BookID        string    `json:"book_id"`
	ChapterNumber int       `json:"chapter_number"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c Chapter) Key() string { return c.ID }

// Recording is one reader's audio for a chapter
type Recording struct {
	ID              string    `json:"id"`
	ChapterID       string    `json:"chapter_id"`
	ReaderID        string    `json:"reader_id"`
	AudioURL        string    `json:"audio_url"`
	DurationSeconds float64   `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
}

func (r Recording) Key() string { return r.ID }

// Role of a family member
type Role string

const (
	RoleReader   Role = "reader"
	RoleAdmin    Role = "admin"
	RoleListener Role = "listener"
)

// User represents a family member
type User struct {
	ID         string    `json:"id"`
	FamilyID   string    `json:"family_id"`
	Name       string    `json:"name"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Role       Role      `json:"role"`
	InviteCode string    `json:"invite_code,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (u User) Key() string { return u.ID }

// ListenerID identifies whose playback progress is being read or written
type ListenerID string

// CompletionMargin is how close to the end playback must get to count as finished
const CompletionMargin = 5 * time.Second

// ChapterProgress tracks how far a listener got in a chapter
type ChapterProgress struct {
	ListenerID  ListenerID `json:"listener_id"`
	ChapterID   string     `json:"chapter_id"`
	RecordingID string     `json:"recording_id"`
	CurrentTime float64    `json:"current_time"`
	Duration    float64    `json:"duration"`
	Completed   bool       `json:"completed"`
	LastPlayed  time.Time  `json:"last_played"`
}

func (p ChapterProgress) Key() string { return string(p.ListenerID) + ":" + p.ChapterID }

// IsCompleted reports whether the position is within CompletionMargin of the end
func IsCompleted(currentTime, duration float64) bool {
	if duration <= 0 {
		return false
	}
	return currentTime >= duration-CompletionMargin.Seconds()
}

// LeaseDuration bounds how long a recording lock stays valid
const LeaseDuration = 30 * time.Minute

// RecordingLock is a reader's lease on a chapter
type RecordingLock struct {
	ChapterID  string    `json:"chapter_id"`
	ReaderID   string    `json:"reader_id"`
	ReaderName string    `json:"reader_name"`
	LockedAt   time.Time `json:"locked_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (l RecordingLock) Key() string { return LockKey(l.ChapterID, l.ReaderID) }

// Expired reports whether the lease is no longer valid at now
func (l RecordingLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// LockKey builds the composite key of a recording lock
func LockKey(chapterID, readerID string) string {
	return chapterID + ":" + readerID
}
