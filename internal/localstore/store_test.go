package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readaloud/internal/models"
)

func backends(t *testing.T) map[string]KV {
	dir := t.TempDir()

	bolt := NewBoltKV(WithNoSync(true))
	require.NoError(t, bolt.Open(filepath.Join(dir, "test.db")))

	sqlite, err := OpenSQLiteKV(filepath.Join(dir, "test.sqlite"))
	require.NoError(t, err)

	t.Cleanup(func() {
		bolt.Close()
		sqlite.Close()
	})

	return map[string]KV{
		"memory": NewMemoryKV(),
		"bolt":   bolt,
		"sqlite": sqlite,
	}
}

func TestCollection_UpsertAndGet(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(kv, "test", nil)
			books := NewCollection[models.Book](store, KeyBooks)

			books.Upsert(models.Book{ID: "b1", Title: "A"})
			books.Upsert(models.Book{ID: "b2", Title: "B"})
			books.Upsert(models.Book{ID: "b1", Title: "A2"})

			all := books.All()
			require.Len(t, all, 2)
			assert.Equal(t, "A2", all[0].Title)

			got, ok := books.Get("b2")
			require.True(t, ok)
			assert.Equal(t, "B", got.Title)

			_, ok = books.Get("missing")
			assert.False(t, ok)
		})
	}
}

func TestCollection_MissingLoadsEmpty(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			store := New(kv, "test", nil)
			chapters := NewCollection[models.Chapter](store, KeyChapters)

			all := chapters.All()
			assert.NotNil(t, all)
			assert.Empty(t, all)
		})
	}
}

func TestCollection_CorruptLoadsEmpty(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, kv.Set("test", KeyRecordings, []byte("{not json")))

			store := New(kv, "test", nil)
			recordings := NewCollection[models.Recording](store, KeyRecordings)
			assert.Empty(t, recordings.All())

			// A corrupt document is overwritten by the next write.
			recordings.Upsert(models.Recording{ID: "r1"})
			assert.Len(t, recordings.All(), 1)
		})
	}
}

func TestCollection_RemoveWhere(t *testing.T) {
	store := New(NewMemoryKV(), "test", nil)
	chapters := NewCollection[models.Chapter](store, KeyChapters)
	chapters.Replace([]models.Chapter{
		{ID: "c1", BookID: "b1"},
		{ID: "c2", BookID: "b2"},
		{ID: "c3", BookID: "b1"},
	})

	removed := chapters.RemoveWhere(func(c models.Chapter) bool { return c.BookID == "b1" })

	assert.Equal(t, 2, removed)
	all := chapters.All()
	require.Len(t, all, 1)
	assert.Equal(t, "c2", all[0].ID)

	assert.True(t, chapters.Remove("c2"))
	assert.False(t, chapters.Remove("c2"))
	assert.Empty(t, chapters.All())
}

func TestCollection_NamespacesAreIsolated(t *testing.T) {
	kv := NewMemoryKV()
	a := NewCollection[models.Book](New(kv, "family-a", nil), KeyBooks)
	b := NewCollection[models.Book](New(kv, "family-b", nil), KeyBooks)

	a.Upsert(models.Book{ID: "b1"})

	assert.Len(t, a.All(), 1)
	assert.Empty(t, b.All())
}

func TestBoltKV_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	kv := NewBoltKV()
	require.NoError(t, kv.Open(path))
	locks := NewCollection[models.RecordingLock](New(kv, "test", nil), KeyLocks)
	locks.Upsert(models.RecordingLock{ChapterID: "c1", ReaderID: "r1", ExpiresAt: time.Now().Add(time.Minute)})
	require.NoError(t, kv.Close())

	kv = NewBoltKV()
	require.NoError(t, kv.Open(path))
	defer kv.Close()
	locks = NewCollection[models.RecordingLock](New(kv, "test", nil), KeyLocks)

	got, ok := locks.Get(models.LockKey("c1", "r1"))
	require.True(t, ok)
	assert.Equal(t, "r1", got.ReaderID)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("leveldb", t.TempDir())
	assert.Error(t, err)
}
