package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"

	"readaloud/internal/config"
	"readaloud/internal/journal/ch"
	"readaloud/internal/storage/pg"
	"readaloud/migrations"
)

func main() {
	target := flag.String("target", "postgres", "migration set to run: postgres or clickhouse")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-target postgres|clickhouse] <up|down|status|version|create NAME>")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	dialect, dir, err := migrationSet(*target)
	if err != nil {
		log.Fatal(err)
	}

	// New migrations are written to the source tree, not the embedded copy.
	if command == "create" {
		if flag.NArg() < 2 {
			log.Fatal("Usage: migrate create <migration_name>")
		}
		name := flag.Arg(1)
		if err := goose.Create(nil, filepath.Join("migrations", dir), name, "sql"); err != nil {
			log.Fatalf("Failed to create migration: %v", err)
		}
		log.Printf("Created migration: %s", name)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := openDB(cfg, *target)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Printf("Connected to %s successfully", *target)

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect(dialect); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	log.Printf("Running migrations: %s", command)
	switch command {
	case "up":
		if err := goose.UpContext(ctx, db, dir); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Migrations completed successfully")
	case "down":
		if err := goose.DownContext(ctx, db, dir); err != nil {
			log.Fatalf("Failed to rollback migration: %v", err)
		}
		log.Println("Rollback completed successfully")
	case "status":
		if err := goose.StatusContext(ctx, db, dir); err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}
	case "version":
		version, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		log.Printf("Current migration version: %d", version)
	default:
		log.Fatalf("Unknown command: %s. Available commands: up, down, status, version, create", command)
	}
}

func migrationSet(target string) (dialect, dir string, err error) {
	switch target {
	case "postgres":
		return "postgres", migrations.PostgresDir, nil
	case "clickhouse":
		return "clickhouse", migrations.ClickHouseDir, nil
	default:
		return "", "", fmt.Errorf("unknown target %q", target)
	}
}

func openDB(cfg *config.Config, target string) (*sql.DB, error) {
	if target == "clickhouse" {
		if !cfg.JournalConfigured() {
			return nil, fmt.Errorf("CLICKHOUSE_HOST is required")
		}
		return ch.OpenDB(cfg.Journal()), nil
	}
	if !cfg.RemoteConfigured() {
		return nil, fmt.Errorf("REMOTE_URL is required")
	}
	return pg.OpenDB(cfg.RemoteURL, cfg.RemoteServiceKey)
}
