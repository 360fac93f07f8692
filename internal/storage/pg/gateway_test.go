package pg

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	postgresTC "github.com/testcontainers/testcontainers-go/modules/postgres"

	"readaloud/internal/models"
	"readaloud/internal/storage"
	"readaloud/migrations"
)

// startPostgres starts a Postgres container and returns its DSN
func startPostgres(t *testing.T) string {
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgresTC.Run(ctx,
		"postgres:16-alpine",
		postgresTC.WithDatabase("readaloud"),
		postgresTC.WithUsername("readaloud"),
		postgresTC.WithPassword("readaloud"),
		postgresTC.BasicWaitStrategies(),
	)
	require.NoError(t, err, "Failed to start Postgres container")
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

// setupTestGateway connects to a fresh container and applies the migrations
func setupTestGateway(t *testing.T) *Gateway {
	dsn := startPostgres(t)
	ctx := context.Background()

	gw, err := Open(ctx, dsn, "", nil)
	require.NoError(t, err, "Failed to connect to Postgres")
	t.Cleanup(func() { gw.Close() })

	require.NoError(t, gw.Migrate(ctx), "Failed to run migrations")
	return gw
}

func TestGateway_Integration(t *testing.T) {
	gw := setupTestGateway(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("UpsertConverges", func(t *testing.T) {
		book := models.Book{ID: "b1", FamilyID: "f1", Title: "Moomins", CreatedAt: now}
		require.NoError(t, gw.Books().Upsert(ctx, book))
		require.NoError(t, gw.Books().Upsert(ctx, book))

		books, err := gw.Books().List(ctx)
		require.NoError(t, err)
		require.Len(t, books, 1)
		assert.Equal(t, "Moomins", books[0].Title)
		assert.True(t, now.Equal(books[0].CreatedAt))
	})

	t.Run("UpsertBatch", func(t *testing.T) {
		chapters := []models.Chapter{
			{ID: "c1", BookID: "b1", ChapterNumber: 1, Title: "One", CreatedAt: now},
			{ID: "c2", BookID: "b1", ChapterNumber: 2, Title: "Two", CreatedAt: now},
		}
		require.NoError(t, gw.Chapters().UpsertBatch(ctx, chapters))
		require.NoError(t, gw.Chapters().UpsertBatch(ctx, chapters))

		got, err := gw.Chapters().List(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := gw.Users().Update(ctx, models.User{ID: "ghost", Name: "Ghost", Role: models.RoleReader})
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("DeleteWhere", func(t *testing.T) {
		require.NoError(t, gw.Recordings().Insert(ctx, models.Recording{ID: "r1", ChapterID: "c1", ReaderID: "u1", CreatedAt: now}))
		require.NoError(t, gw.Recordings().Insert(ctx, models.Recording{ID: "r2", ChapterID: "c2", ReaderID: "u1", CreatedAt: now}))

		require.NoError(t, gw.Recordings().DeleteWhere(ctx, "chapter_id", "c1"))

		got, err := gw.Recordings().List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r2", got[0].ID)

		assert.Error(t, gw.Recordings().DeleteWhere(ctx, "chapter_id; DROP TABLE books", "x"))
	})

	t.Run("CompositeKeys", func(t *testing.T) {
		p := models.ChapterProgress{ListenerID: "kid", ChapterID: "c1", CurrentTime: 12, Duration: 100, LastPlayed: now}
		require.NoError(t, gw.Progress().Upsert(ctx, p))
		p.CurrentTime = 98
		p.Completed = true
		require.NoError(t, gw.Progress().Upsert(ctx, p))

		got, err := gw.Progress().List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, models.ListenerID("kid"), got[0].ListenerID)
		assert.Equal(t, 98.0, got[0].CurrentTime)
		assert.True(t, got[0].Completed)

		require.NoError(t, gw.Progress().Delete(ctx, p.Key()))
		got, err = gw.Progress().List(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("EmbeddedRecording", func(t *testing.T) {
		audio := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 64<<10)))
		rec := models.Recording{ID: "big", ChapterID: "c2", ReaderID: "u1", AudioURL: "data:audio/webm;base64," + audio, CreatedAt: now}

		require.NoError(t, gw.Recordings().Upsert(ctx, rec))
		require.NoError(t, gw.Recordings().UpsertBatch(ctx, []models.Recording{rec}))

		got, err := gw.Recordings().List(ctx)
		require.NoError(t, err)
		var found bool
		for _, r := range got {
			if r.ID == "big" {
				found = true
				assert.Equal(t, rec.AudioURL, r.AudioURL)
			}
		}
		assert.True(t, found)
	})

	t.Run("LockChangeFeed", func(t *testing.T) {
		events := make(chan storage.ChangeEvent, 4)
		cancel, err := gw.Subscribe(ctx, models.TableRecordingLocks, func(e storage.ChangeEvent) {
			events <- e
		})
		require.NoError(t, err)
		defer cancel()

		lock := models.RecordingLock{ChapterID: "c1", ReaderID: "u1", ReaderName: "Mum", LockedAt: now, ExpiresAt: now.Add(models.LeaseDuration)}
		require.NoError(t, gw.Locks().Upsert(ctx, lock))

		select {
		case e := <-events:
			assert.Equal(t, storage.ChangeInsert, e.Type)
			var key struct {
				ChapterID string `json:"chapter_id"`
				ReaderID  string `json:"reader_id"`
			}
			require.NoError(t, json.Unmarshal(e.New, &key))
			assert.Equal(t, "c1", key.ChapterID)
			assert.Equal(t, "u1", key.ReaderID)
		case <-time.After(5 * time.Second):
			t.Fatal("no change event received")
		}

		require.NoError(t, gw.Locks().Delete(ctx, lock.Key()))
		select {
		case e := <-events:
			assert.Equal(t, storage.ChangeDelete, e.Type)
		case <-time.After(5 * time.Second):
			t.Fatal("no delete event received")
		}
	})
}

func TestMigrations_UpDown(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	db, err := OpenDB(dsn, "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))

	require.NoError(t, goose.UpContext(ctx, db, migrations.PostgresDir))
	version, err := goose.GetDBVersionContext(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)

	require.NoError(t, goose.ResetContext(ctx, db, migrations.PostgresDir))
	version, err = goose.GetDBVersionContext(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 0, version)

	require.NoError(t, goose.UpContext(ctx, db, migrations.PostgresDir))
}
