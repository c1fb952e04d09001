// Package migrations embeds the metadata store schema for golang-migrate.
package migrations

import "embed"

// FS holds the numbered up/down SQL files.
//
//go:embed *.sql
var FS embed.FS
