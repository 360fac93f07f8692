// Package pg implements the remote gateway on PostgreSQL.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"readaloud/internal/models"
	"readaloud/internal/storage"
)

const (
	maxConns          = 10
	minConns          = 1
	maxConnIdleTime   = 10 * time.Minute
	healthCheckPeriod = time.Minute
	connectTimeout    = 5 * time.Second
	pingTimeout       = 2 * time.Second
)

// Gateway is a storage.Gateway backed by a pgx pool
type Gateway struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	books      *repo[models.Book]
	chapters   *repo[models.Chapter]
	recordings *repo[models.Recording]
	users      *repo[models.User]
	progress   *repo[models.ChapterProgress]
	locks      *repo[models.RecordingLock]
}

// Open builds a pool for dsn. serviceKey, when set, overrides the password in dsn.
// The pool connects lazily: an unreachable server is logged, not returned, so
// callers keep a gateway whose calls fail until connectivity returns.
func Open(ctx context.Context, dsn, serviceKey string, logger *zap.Logger) (*Gateway, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	if serviceKey != "" {
		poolConfig.ConnConfig.Password = serviceKey
	}
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = minConns
	poolConfig.MaxConnIdleTime = maxConnIdleTime
	poolConfig.HealthCheckPeriod = healthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = connectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	gw := New(pool, logger)

	if err := gw.Ping(ctx); err != nil {
		logger.Warn("Remote store unreachable, changes will be queued",
			zap.String("host", poolConfig.ConnConfig.Host),
			zap.Error(err),
		)
		return gw, nil
	}

	logger.Info("Connected to remote store",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
	)
	return gw, nil
}

// Ping checks that the server answers within pingTimeout
func (g *Gateway) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := g.pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	return nil
}

// New wraps an existing pool
func New(pool *pgxpool.Pool, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		pool:       pool,
		logger:     logger,
		books:      &repo[models.Book]{pool: pool, table: booksTable},
		chapters:   &repo[models.Chapter]{pool: pool, table: chaptersTable},
		recordings: &repo[models.Recording]{pool: pool, table: recordingsTable},
		users:      &repo[models.User]{pool: pool, table: usersTable},
		progress:   &repo[models.ChapterProgress]{pool: pool, table: progressTable},
		locks:      &repo[models.RecordingLock]{pool: pool, table: locksTable},
	}
}

func (g *Gateway) Available() bool { return g.pool != nil }

func (g *Gateway) Books() storage.Repository[models.Book]           { return g.books }
func (g *Gateway) Chapters() storage.Repository[models.Chapter]     { return g.chapters }
func (g *Gateway) Recordings() storage.Repository[models.Recording] { return g.recordings }
func (g *Gateway) Users() storage.Repository[models.User]           { return g.users }
func (g *Gateway) Progress() storage.Repository[models.ChapterProgress] {
	return g.progress
}
func (g *Gateway) Locks() storage.Repository[models.RecordingLock] { return g.locks }

// Pool exposes the underlying pool for migrations
func (g *Gateway) Pool() *pgxpool.Pool {
	return g.pool
}

// Close closes the pool
func (g *Gateway) Close() error {
	if g.pool != nil {
		g.pool.Close()
	}
	return nil
}
