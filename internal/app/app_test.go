package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"readaloud/internal/api"
	"readaloud/internal/config"
	"readaloud/internal/journal"
	"readaloud/internal/localstore"
	"readaloud/internal/models"
	"readaloud/internal/notify"
	"readaloud/internal/storage"
	"readaloud/internal/storage/pg"
	"readaloud/internal/storage/stubs"
)

func localOnlyConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	return &config.Config{
		Port:             "0",
		Environment:      "test",
		LogLevel:         "debug",
		DataDir:          t.TempDir(),
		LocalStoreDriver: driver,
		FamilyID:         "family",
		ClickHousePort:   9000,
		SyncSchedule:     "@every 5m",
		ReplaySchedule:   "@every 1m",
		UploadTimeout:    time.Minute,
		Blob:             config.BlobConfig{Backend: "fs"},
	}
}

func TestNewWithConfig_LocalOnly(t *testing.T) {
	cfg := localOnlyConfig(t, localstore.DriverMemory)
	cfg.Blob.FSDir = t.TempDir()

	a, err := NewWithConfig(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })

	assert.IsType(t, storage.Unavailable{}, a.gateway)
	assert.IsType(t, &journal.Memory{}, a.journal)
	assert.IsType(t, notify.Nop{}, a.notifier)
	assert.Nil(t, a.redis)
	assert.NotEmpty(t, cfg.DeviceID)
	assert.True(t, a.uploader.Configured())

	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status api.Status
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.False(t, status.RemoteAvailable)
	assert.True(t, status.BlobConfigured)
	assert.Zero(t, status.PendingOps)
}

func TestDeviceID_PersistsAcrossRestarts(t *testing.T) {
	cfg := localOnlyConfig(t, localstore.DriverBolt)

	first, err := NewWithConfig(cfg, zap.NewNop())
	require.NoError(t, err)
	id := cfg.DeviceID
	require.NotEmpty(t, id)
	require.NoError(t, first.Shutdown())

	cfg.DeviceID = ""
	second, err := NewWithConfig(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Shutdown() })

	assert.Equal(t, id, cfg.DeviceID)
}

func TestNewWithConfig_UnknownBlobBackend(t *testing.T) {
	cfg := localOnlyConfig(t, localstore.DriverMemory)
	cfg.Blob.Backend = "carrier-pigeon"

	a, err := NewWithConfig(cfg, zap.NewNop())
	require.NoError(t, err, "a missing blob backend degrades instead of failing startup")
	t.Cleanup(func() { _ = a.Shutdown() })

	assert.False(t, a.uploader.Configured())
}

func TestNewWithConfig_UnreachableRemote(t *testing.T) {
	cfg := localOnlyConfig(t, localstore.DriverMemory)
	cfg.RemoteURL = "postgres://u:p@127.0.0.1:1/db"
	cfg.AutoMigrate = true
	cfg.RedisURL = "redis://127.0.0.1:1"

	a, err := NewWithConfig(cfg, zap.NewNop())
	require.NoError(t, err, "the service starts without a network")
	t.Cleanup(func() { _ = a.Shutdown() })

	assert.IsType(t, &pg.Gateway{}, a.gateway)
	assert.Nil(t, a.redis)

	ctx := context.Background()
	book := a.engine.CreateBook(ctx, models.Book{Title: "Charlotte's Web"})
	assert.Len(t, a.engine.Books(), 1)
	assert.Equal(t, 1, a.queue.Len(), "the failed remote insert is queued")
	assert.Equal(t, book.ID, a.engine.Books()[0].ID)
}

func TestRun_SyncsAtStartup(t *testing.T) {
	cfg := localOnlyConfig(t, localstore.DriverMemory)
	cfg.Blob.FSDir = t.TempDir()
	gw := stubs.NewMemoryGateway()

	a, err := build(cfg, zap.NewNop(), gw)
	require.NoError(t, err)

	gw.SetAvailable(false)
	a.engine.CreateBook(context.Background(), models.Book{Title: "Paddington"})
	require.Zero(t, gw.Count(models.TableBooks))
	gw.SetAvailable(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	assert.Eventually(t, func() bool {
		return gw.Count(models.TableBooks) == 1
	}, 5*time.Second, 10*time.Millisecond, "local books are pushed without waiting for the schedule")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{Environment: "production", LogLevel: "warn"}
	logger, err := newLogger(cfg)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	cfg.LogLevel = "loud"
	_, err = newLogger(cfg)
	assert.Error(t, err)
}
