// Package ch stores the sync journal in ClickHouse.
package ch

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"readaloud/internal/journal"
	"readaloud/internal/models"
	"readaloud/migrations"
)

// Config holds the ClickHouse connection settings
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	UseTLS   bool
}

func (c Config) options() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", c.Host, c.Port)},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.User,
			Password: c.Password,
		},
	}
	if c.UseTLS {
		options.TLS = &tls.Config{}
	}
	return options
}

// Journal is a journal.Recorder and journal.Reader backed by ClickHouse
type Journal struct {
	conn clickhouse.Conn
}

// New opens a ClickHouse connection and verifies it
func New(ctx context.Context, cfg Config) (*Journal, error) {
	conn, err := clickhouse.Open(cfg.options())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Journal{conn: conn}, nil
}

// OpenDB returns a database/sql handle, as goose needs one
func OpenDB(cfg Config) *sql.DB {
	return clickhouse.OpenDB(cfg.options())
}

// Migrate applies the embedded journal migrations
func Migrate(ctx context.Context, cfg Config) error {
	db := OpenDB(cfg)
	defer db.Close()
	return migrate(ctx, db)
}

func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrations.ClickHouseDir); err != nil {
		return fmt.Errorf("failed to run journal migrations: %w", err)
	}
	return nil
}

// Record inserts events in one batch
func (j *Journal) Record(ctx context.Context, events ...journal.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := j.conn.PrepareBatch(ctx, `INSERT INTO sync_events (at, device_id, kind, table_name, operation, outcome, count, detail)`)
	if err != nil {
		return fmt.Errorf("failed to prepare journal batch: %w", err)
	}
	defer batch.Abort()

	for _, e := range events {
		if err := batch.Append(
			e.At, e.DeviceID, string(e.Kind), string(e.Table), string(e.Operation), e.Outcome, uint32(e.Count), e.Detail,
		); err != nil {
			return fmt.Errorf("failed to append journal event: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to write journal events: %w", err)
	}
	return nil
}

// Recent returns the last limit events
func (j *Journal) Recent(ctx context.Context, limit int) ([]journal.Event, error) {
	rows, err := j.conn.Query(ctx, `SELECT at, device_id, kind, table_name, operation, outcome, count, detail
		FROM sync_events ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var (
			e                      journal.Event
			kind, table, operation string
			count                  uint32
		)
		if err := rows.Scan(&e.At, &e.DeviceID, &kind, &table, &operation, &e.Outcome, &count, &e.Detail); err != nil {
			return nil, fmt.Errorf("failed to scan journal event: %w", err)
		}
		e.Kind = journal.Kind(kind)
		e.Table = models.Table(table)
		e.Operation = models.Operation(operation)
		e.Count = int(count)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database connection
func (j *Journal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}
