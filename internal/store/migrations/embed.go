// Package migrations embeds the SQLite schema migrations.
package migrations

import "embed"

// FS holds the numbered *.up.sql files, applied in order.
//
//go:embed *.sql
var FS embed.FS
