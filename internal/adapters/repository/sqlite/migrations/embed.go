// Package migrations embeds the SQLite schema of the progression store.
package migrations

import "embed"

// FS contains embedded SQLite migrations.
//
//go:embed *.sql
var FS embed.FS
