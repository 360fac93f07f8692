package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"readaloud/internal/api"
	"readaloud/internal/blob"
	"readaloud/internal/bot"
	"readaloud/internal/config"
	"readaloud/internal/journal"
	"readaloud/internal/journal/ch"
	"readaloud/internal/localstore"
	"readaloud/internal/locks"
	"readaloud/internal/models"
	"readaloud/internal/notify"
	"readaloud/internal/progress"
	"readaloud/internal/retryqueue"
	"readaloud/internal/scheduler"
	"readaloud/internal/storage"
	"readaloud/internal/storage/pg"
	"readaloud/internal/syncer"
)

const (
	deviceIDKey     = "device_id"
	shutdownTimeout = 5 * time.Second
	startupTimeout  = 30 * time.Second
)

// syncJournal is both written by the sync components and read by the API
type syncJournal interface {
	journal.Recorder
	journal.Reader
}

// App represents the application
type App struct {
	config *config.Config
	logger *zap.Logger

	store     *localstore.Store
	gateway   storage.Gateway
	journal   syncJournal
	notifier  notify.Notifier
	redis     *locks.RedisAcquirer
	queue     *retryqueue.Queue
	uploader  *blob.Uploader
	engine    *syncer.Engine
	progress  *progress.Service
	locks     *locks.Manager
	scheduler *scheduler.SyncScheduler
	server    *api.Server
	bot       *bot.Bot

	unsubscribeLocks func()
}

// New loads the configuration and builds every component
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return NewWithConfig(cfg, logger)
}

// NewWithConfig builds the application from an already loaded configuration
func NewWithConfig(cfg *config.Config, logger *zap.Logger) (*App, error) {
	return build(cfg, logger, nil)
}

// build wires every component. A non-nil gw replaces the configured remote store.
func build(cfg *config.Config, logger *zap.Logger, gw storage.Gateway) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{config: cfg, logger: logger, gateway: gw}

	logger.Info("Starting read-aloud sync service",
		zap.String("environment", cfg.Environment),
		zap.String("local_store", cfg.LocalStoreDriver),
	)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	steps := []func(context.Context) error{
		a.initLocalStore,
		a.initGateway,
		a.initJournal,
		a.initNotifier,
		a.initSync,
		a.initLocks,
		a.initBot,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	a.scheduler = scheduler.New(a.engine, a.progress, cfg.Schedules(), logger.Named("scheduler"))
	a.server = api.NewServer(cfg.Port, api.Deps{
		Engine:    a.engine,
		Queue:     a.queue,
		Locks:     a.locks,
		Journal:   a.journal,
		Uploads:   a.uploader,
		Scheduler: a.scheduler,
	}, logger.Named("http"))

	return a, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsDevelopment() {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func (a *App) initLocalStore(context.Context) error {
	if a.config.LocalStoreDriver != localstore.DriverMemory {
		if err := os.MkdirAll(a.config.DataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	kv, err := localstore.Open(a.config.LocalStoreDriver, a.config.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	a.store = localstore.New(kv, a.config.FamilyID, a.logger.Named("localstore"))

	if a.config.DeviceID == "" {
		a.config.DeviceID = a.deviceID()
	}
	a.logger.Info("Local store opened",
		zap.String("driver", a.config.LocalStoreDriver),
		zap.String("family_id", a.config.FamilyID),
		zap.String("device_id", a.config.DeviceID),
	)
	return nil
}

// deviceID returns the id persisted in the local store, creating it on first run
func (a *App) deviceID() string {
	var id string
	if a.store.Load(deviceIDKey, &id) && id != "" {
		return id
	}
	id = uuid.NewString()
	if err := a.store.Save(deviceIDKey, id); err != nil {
		a.logger.Warn("Failed to persist device id", zap.Error(err))
	}
	return id
}

func (a *App) initGateway(ctx context.Context) error {
	if a.gateway != nil {
		return nil
	}
	if !a.config.RemoteConfigured() {
		a.logger.Warn("No remote store configured, running local-only")
		a.gateway = storage.Unavailable{}
		return nil
	}

	gw, err := pg.Open(ctx, a.config.RemoteURL, a.config.RemoteServiceKey, a.logger.Named("remote"))
	if err != nil {
		return fmt.Errorf("failed to create remote store: %w", err)
	}
	if a.config.AutoMigrate {
		if err := gw.Ping(ctx); err != nil {
			a.logger.Warn("Skipping remote migrations while the remote store is unreachable", zap.Error(err))
		} else if err := gw.Migrate(ctx); err != nil {
			gw.Close()
			return fmt.Errorf("failed to migrate remote store: %w", err)
		}
	}
	a.gateway = gw
	return nil
}

func (a *App) initJournal(ctx context.Context) error {
	if !a.config.JournalConfigured() {
		a.journal = journal.NewMemory()
		return nil
	}

	jcfg := a.config.Journal()
	a.logger.Info("Connecting to ClickHouse journal",
		zap.String("host", jcfg.Host),
		zap.Int("port", jcfg.Port),
		zap.String("database", jcfg.Database),
		zap.Bool("tls", jcfg.UseTLS),
	)
	j, err := ch.New(ctx, jcfg)
	if err != nil {
		a.logger.Warn("ClickHouse unreachable, keeping the sync journal in memory", zap.Error(err))
		a.journal = journal.NewMemory()
		return nil
	}
	if a.config.AutoMigrate {
		if err := ch.Migrate(ctx, jcfg); err != nil {
			j.Close()
			return fmt.Errorf("failed to migrate sync journal: %w", err)
		}
	}
	a.journal = j
	return nil
}

func (a *App) initNotifier(context.Context) error {
	if a.config.TelegramToken == "" {
		a.notifier = notify.Nop{}
		return nil
	}
	t, err := notify.NewTelegram(a.config.TelegramToken, a.config.TelegramChatID, a.logger.Named("notify"))
	if err != nil {
		return fmt.Errorf("failed to create Telegram notifier: %w", err)
	}
	a.notifier = t
	return nil
}

func (a *App) initSync(context.Context) error {
	device := a.config.DeviceID

	a.queue = retryqueue.New(a.store, retryqueue.NewGatewayDispatcher(a.gateway), a.logger.Named("queue"),
		retryqueue.WithJournal(a.journal),
		retryqueue.WithNotifier(a.notifier),
		retryqueue.WithDeviceID(device),
	)

	backend, err := blob.NewBackend(a.config.BlobBackend())
	if err != nil {
		a.logger.Warn("Blob storage unavailable, recordings will be embedded when small enough", zap.Error(err))
	}
	a.uploader = blob.NewUploader(backend, a.logger.Named("blob"),
		blob.WithTimeout(a.config.UploadTimeout),
		blob.WithNotifier(a.notifier),
		blob.WithJournal(a.journal),
	)

	a.engine = syncer.New(a.store, a.gateway, a.queue, a.logger.Named("sync"),
		syncer.WithBlobRemover(a.uploader),
		syncer.WithJournal(a.journal),
		syncer.WithDeviceID(device),
	)
	a.progress = progress.New(a.store, a.gateway, a.queue, a.logger.Named("progress"))
	return nil
}

func (a *App) initLocks(ctx context.Context) error {
	var opts []locks.Option
	if a.config.RedisURL != "" {
		r, err := locks.NewRedisAcquirer(ctx, a.config.RedisURL)
		if err != nil {
			a.logger.Warn("Redis unreachable, recording locks stay advisory", zap.Error(err))
		} else {
			a.redis = r
			opts = append(opts, locks.WithAtomicAcquirer(r))
		}
	}
	a.locks = locks.NewManager(a.store, a.gateway, a.logger.Named("locks"), opts...)
	return nil
}

func (a *App) initBot(context.Context) error {
	if !a.config.BotEnabled() {
		return nil
	}
	b, err := bot.NewBot(a.config.TelegramToken, bot.Deps{
		Sync:    a.engine,
		Locks:   a.locks,
		Queue:   a.queue,
		Journal: a.journal,
	}, a.config.AllowedUserIDs, a.logger.Named("bot"))
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	a.logger.Info("Bot created", zap.Int64s("allowed_users", a.config.AllowedUserIDs))
	a.bot = b
	return nil
}

// Run starts the scheduler and the HTTP server and blocks until a signal arrives
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.run(ctx)
}

func (a *App) run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Reconcile once at startup instead of waiting for the first tick
	syncCtx, cancelSync := context.WithCancel(ctx)
	initialSync := make(chan struct{})
	go func() {
		defer close(initialSync)
		a.scheduler.RunNow(syncCtx)
	}()

	unsubscribe, err := a.locks.Subscribe(ctx, func(active []models.RecordingLock) {
		a.logger.Debug("Recording locks changed", zap.Int("active", len(active)))
	})
	if err != nil {
		a.logger.Warn("Lock change feed unavailable", zap.Error(err))
	}
	a.unsubscribeLocks = unsubscribe

	if a.bot != nil {
		go a.bot.Start(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case err := <-serverErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	cancelSync()
	<-initialSync

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops every component
func (a *App) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP server shutdown error", zap.Error(err))
		}
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.unsubscribeLocks != nil {
		a.unsubscribeLocks()
	}

	err := a.close()
	a.logger.Info("Shutdown complete")
	_ = a.logger.Sync()
	return err
}

func (a *App) close() error {
	var errs []error

	if t, ok := a.notifier.(*notify.Telegram); ok {
		t.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if c, ok := a.journal.(interface{ Close() error }); ok {
		errs = append(errs, c.Close())
	}
	if a.gateway != nil {
		errs = append(errs, a.gateway.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
