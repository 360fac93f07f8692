package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/alicebob/miniredis/v2"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"readaloud/internal/app"
)

func main() {
	ctx := context.Background()

	log.Println("Starting Postgres testcontainer...")
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("readaloud"),
		postgres.WithUsername("readaloud"),
		postgres.WithPassword("devpassword"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer terminate(ctx, "Postgres", pgContainer)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("Failed to get Postgres connection string: %v", err)
	}
	log.Printf("Postgres started at %s", dsn)

	log.Println("Starting ClickHouse testcontainer...")
	chContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.3.102-alpine",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword("devpassword"),
		clickhouse.WithDatabase("default"),
	)
	if err != nil {
		log.Fatalf("Failed to start ClickHouse container: %v", err)
	}
	defer terminate(ctx, "ClickHouse", chContainer)

	host, err := chContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	port, err := chContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		log.Fatalf("Failed to get container port: %v", err)
	}
	log.Printf("ClickHouse started at %s:%s", host, port.Port())

	redis, err := miniredis.Run()
	if err != nil {
		log.Fatalf("Failed to start in-process Redis: %v", err)
	}
	defer redis.Close()

	dataDir, err := os.MkdirTemp("", "readaloud-dev-")
	if err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}
	defer os.RemoveAll(dataDir)

	env := map[string]string{
		"ENVIRONMENT":         "development",
		"LOG_LEVEL":           "debug",
		"DATA_DIR":            dataDir,
		"REMOTE_URL":          dsn,
		"AUTO_MIGRATE":        "true",
		"REDIS_URL":           "redis://" + redis.Addr(),
		"CLICKHOUSE_HOST":     host,
		"CLICKHOUSE_PORT":     port.Port(),
		"CLICKHOUSE_DATABASE": "default",
		"CLICKHOUSE_USER":     "default",
		"CLICKHOUSE_PASSWORD": "devpassword",
		"CLICKHOUSE_USE_TLS":  "false",
		"BLOB_BACKEND":        "fs",
		"BLOB_FS_DIR":         filepath.Join(dataDir, "audio"),
	}
	for key, value := range env {
		os.Setenv(key, value)
	}
	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8080")
	}
	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, failure notices are disabled.")
	}

	log.Println("Starting application with Postgres, ClickHouse and Redis...")
	fmt.Println()

	application, err := app.New()
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		return
	}

	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}

func terminate(ctx context.Context, name string, c testcontainers.Container) {
	log.Printf("Stopping %s container...", name)
	if err := c.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate %s container: %v", name, err)
	}
}
