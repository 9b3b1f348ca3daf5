// Package migrations embeds the local store schema for golang-migrate.
package migrations

import "embed"

// FS holds one directory of migrations per driver: sqlite and postgres.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS
