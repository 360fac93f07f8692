package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"readaloud/internal/blob"
	"readaloud/internal/journal/ch"
	"readaloud/internal/localstore"
	"readaloud/internal/scheduler"
)

// Config holds the application configuration
type Config struct {
	Port        string `env:"PORT"        envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"   envDefault:"info"`

	// Local store
	DataDir          string `env:"DATA_DIR"           envDefault:"./data"`
	LocalStoreDriver string `env:"LOCAL_STORE_DRIVER" envDefault:"bolt"`
	FamilyID         string `env:"FAMILY_ID"          envDefault:"default"`
	DeviceID         string `env:"DEVICE_ID"`

	// Remote store. Both empty means local-only mode.
	RemoteURL        string `env:"REMOTE_URL"`
	RemoteServiceKey string `env:"REMOTE_SERVICE_KEY"`
	AutoMigrate      bool   `env:"AUTO_MIGRATE" envDefault:"false"`

	// Optional atomic lease backend
	RedisURL string `env:"REDIS_URL"`

	Blob BlobConfig `envPrefix:"BLOB_"`

	// Sync journal; empty host keeps the journal in memory
	ClickHouseHost     string `env:"CLICKHOUSE_HOST"`
	ClickHousePort     int    `env:"CLICKHOUSE_PORT"     envDefault:"9000"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DATABASE" envDefault:"default"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER"     envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`
	ClickHouseUseTLS   bool   `env:"CLICKHOUSE_USE_TLS"  envDefault:"false"`

	// Notifications and the admin bot
	TelegramToken  string  `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID int64   `env:"TELEGRAM_CHAT_ID"`
	AllowedUserIDs []int64 `env:"ALLOWED_USER_IDS" envSeparator:","`

	SyncSchedule   string `env:"SYNC_SCHEDULE"   envDefault:"@every 5m"`
	ReplaySchedule string `env:"REPLAY_SCHEDULE" envDefault:"@every 1m"`

	UploadTimeout time.Duration `env:"UPLOAD_TIMEOUT" envDefault:"3m"`
}

// BlobConfig selects and configures the audio storage backend
type BlobConfig struct {
	Backend string `env:"BACKEND" envDefault:"http"`

	HTTPEndpoint string `env:"HTTP_ENDPOINT"`
	HTTPToken    string `env:"HTTP_TOKEN"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION"     envDefault:"auto"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`
	S3UseSSL    bool   `env:"S3_USE_SSL"    envDefault:"true"`
	S3PublicURL string `env:"S3_PUBLIC_URL"`

	FSDir       string `env:"FS_DIR"`
	FSPublicURL string `env:"FS_PUBLIC_URL"`
}

// Load reads an optional .env file and parses the environment
func Load() (*Config, error) {
	// A missing .env file is fine; the process environment still applies.
	_ = godotenv.Load()
	return Parse()
}

// Parse reads the configuration from the process environment only
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations the struct tags cannot express
func (c *Config) Validate() error {
	var errs []error

	switch c.LocalStoreDriver {
	case localstore.DriverBolt, localstore.DriverSQLite, localstore.DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("LOCAL_STORE_DRIVER must be bolt, sqlite or memory, got %q", c.LocalStoreDriver))
	}
	if c.LocalStoreDriver != localstore.DriverMemory && c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required for a persistent local store"))
	}
	if c.RemoteServiceKey != "" && c.RemoteURL == "" {
		errs = append(errs, errors.New("REMOTE_URL is required when REMOTE_SERVICE_KEY is set"))
	}
	if c.TelegramToken != "" && c.TelegramChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set"))
	}
	if c.UploadTimeout <= 0 {
		errs = append(errs, errors.New("UPLOAD_TIMEOUT must be positive"))
	}
	if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
		errs = append(errs, fmt.Errorf("invalid CLICKHOUSE_PORT: %d", c.ClickHousePort))
	}

	return errors.Join(errs...)
}

// RemoteConfigured reports whether a remote store is set up
func (c *Config) RemoteConfigured() bool {
	return c.RemoteURL != ""
}

// BotEnabled reports whether the Telegram admin bot should run
func (c *Config) BotEnabled() bool {
	return c.TelegramToken != "" && len(c.AllowedUserIDs) > 0
}

// JournalConfigured reports whether the ClickHouse journal is set up
func (c *Config) JournalConfigured() bool {
	return c.ClickHouseHost != ""
}

// IsDevelopment reports whether the app runs in development mode
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// BlobBackend maps the blob settings to the blob package config
func (c *Config) BlobBackend() blob.Config {
	return blob.Config{
		Backend:      c.Blob.Backend,
		HTTPEndpoint: c.Blob.HTTPEndpoint,
		HTTPToken:    c.Blob.HTTPToken,
		S3Endpoint:   c.Blob.S3Endpoint,
		S3Region:     c.Blob.S3Region,
		S3Bucket:     c.Blob.S3Bucket,
		S3AccessKey:  c.Blob.S3AccessKey,
		S3SecretKey:  c.Blob.S3SecretKey,
		S3UseSSL:     c.Blob.S3UseSSL,
		S3PublicURL:  c.Blob.S3PublicURL,
		FSDir:        c.Blob.FSDir,
		FSPublicURL:  c.Blob.FSPublicURL,
	}
}

// Journal maps the ClickHouse settings to the journal config
func (c *Config) Journal() ch.Config {
	return ch.Config{
		Host:     c.ClickHouseHost,
		Port:     c.ClickHousePort,
		Database: c.ClickHouseDatabase,
		User:     c.ClickHouseUser,
		Password: c.ClickHousePassword,
		UseTLS:   c.ClickHouseUseTLS,
	}
}

// Schedules returns the cron schedules for the sync scheduler
func (c *Config) Schedules() scheduler.Config {
	return scheduler.Config{
		SyncSchedule:   c.SyncSchedule,
		ReplaySchedule: c.ReplaySchedule,
	}
}
