// Package migrations embeds the goose SQL migrations.
package migrations

import "embed"

// FS holds the PostgreSQL migrations.
//
//go:embed *.sql
var FS embed.FS

// SQLite holds the SQLite migrations under sqlite/.
//
//go:embed sqlite/*.sql
var SQLite embed.FS
