// Package migrations embeds the goose migrations for the remote Postgres store
// and the ClickHouse sync journal.
package migrations

import "embed"

//go:embed postgres/*.sql clickhouse/*.sql
var FS embed.FS

// Directories inside FS
const (
	PostgresDir   = "postgres"
	ClickHouseDir = "clickhouse"
)
