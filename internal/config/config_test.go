package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unset removes keys for the duration of the test
func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestParse_Defaults(t *testing.T) {
	unset(t, "LOCAL_STORE_DRIVER", "REMOTE_URL", "REMOTE_SERVICE_KEY", "CLICKHOUSE_HOST",
		"SYNC_SCHEDULE", "UPLOAD_TIMEOUT", "BLOB_BACKEND", "TELEGRAM_BOT_TOKEN", "DATA_DIR")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "bolt", cfg.LocalStoreDriver)
	assert.Equal(t, "@every 5m", cfg.SyncSchedule)
	assert.Equal(t, 3*time.Minute, cfg.UploadTimeout)
	assert.Equal(t, "http", cfg.Blob.Backend)
	assert.False(t, cfg.RemoteConfigured())
	assert.False(t, cfg.JournalConfigured())
}

func TestParse_BlobSettings(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "s3")
	t.Setenv("BLOB_S3_BUCKET", "recordings")
	t.Setenv("BLOB_S3_ENDPOINT", "minio:9000")
	t.Setenv("BLOB_S3_USE_SSL", "false")

	cfg, err := Parse()
	require.NoError(t, err)

	blobCfg := cfg.BlobBackend()
	assert.Equal(t, "s3", blobCfg.Backend)
	assert.Equal(t, "recordings", blobCfg.S3Bucket)
	assert.Equal(t, "minio:9000", blobCfg.S3Endpoint)
	assert.False(t, blobCfg.S3UseSSL)
}

func TestParse_Remote(t *testing.T) {
	t.Setenv("REMOTE_URL", "postgres://localhost:5432/readaloud")
	t.Setenv("REMOTE_SERVICE_KEY", "secret")
	t.Setenv("CLICKHOUSE_HOST", "ch")
	t.Setenv("CLICKHOUSE_PORT", "9440")
	t.Setenv("CLICKHOUSE_USE_TLS", "true")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.True(t, cfg.RemoteConfigured())
	assert.True(t, cfg.JournalConfigured())
	journal := cfg.Journal()
	assert.Equal(t, "ch", journal.Host)
	assert.Equal(t, 9440, journal.Port)
	assert.True(t, journal.UseTLS)
}

func TestParse_AllowedUsers(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "-100")
	t.Setenv("ALLOWED_USER_IDS", "11,22")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, []int64{11, 22}, cfg.AllowedUserIDs)
	assert.True(t, cfg.BotEnabled())
}

func TestParse_InvalidUserID(t *testing.T) {
	t.Setenv("ALLOWED_USER_IDS", "11,abc")

	_, err := Parse()
	assert.Error(t, err)
}

func TestParse_InvalidPort(t *testing.T) {
	t.Setenv("CLICKHOUSE_PORT", "not-a-port")

	_, err := Parse()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DataDir:          "./data",
			LocalStoreDriver: "bolt",
			ClickHousePort:   9000,
			UploadTimeout:    time.Minute,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "memory needs no dir", mutate: func(c *Config) { c.LocalStoreDriver = "memory"; c.DataDir = "" }},
		{name: "unknown driver", mutate: func(c *Config) { c.LocalStoreDriver = "leveldb" }, wantErr: "LOCAL_STORE_DRIVER"},
		{name: "missing dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "DATA_DIR"},
		{name: "key without url", mutate: func(c *Config) { c.RemoteServiceKey = "k" }, wantErr: "REMOTE_URL"},
		{name: "token without chat", mutate: func(c *Config) { c.TelegramToken = "t" }, wantErr: "TELEGRAM_CHAT_ID"},
		{name: "zero timeout", mutate: func(c *Config) { c.UploadTimeout = 0 }, wantErr: "UPLOAD_TIMEOUT"},
		{name: "bad port", mutate: func(c *Config) { c.ClickHousePort = 70000 }, wantErr: "CLICKHOUSE_PORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
