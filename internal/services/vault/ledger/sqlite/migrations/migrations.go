// Package migrations embeds the ledger schema.
package migrations

import "embed"

// FS holds the ledger's forward-only SQL migrations.
//
//go:embed *.sql
var FS embed.FS
