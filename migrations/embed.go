// Package migrations embeds the goose SQL migrations that the worker
// applies at startup.
package migrations

import "embed"

// FS holds the SQL migration files.
//
//go:embed *.sql
var FS embed.FS
