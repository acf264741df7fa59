// Package migrations embeds the idempotent schema files applied at startup.
package migrations

import "embed"

//go:embed postgres/*.sql clickhouse/*.sql
var FS embed.FS

const (
	PostgresDir   = "postgres"
	ClickHouseDir = "clickhouse"
)
