package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"readaloud/migrations"
)

// Migrate applies the embedded Postgres migrations through the gateway's pool
func (g *Gateway) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(g.pool)
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, migrations.PostgresDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// OpenDB returns a database/sql handle for tools such as goose.
// serviceKey, when set, overrides the password in dsn.
func OpenDB(dsn, serviceKey string) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres DSN: %w", err)
	}
	if serviceKey != "" {
		connConfig.Password = serviceKey
	}
	return stdlib.OpenDB(*connConfig), nil
}
