// Package migrations embeds the schema migration files applied at startup.
// Files are named <version>_<name>.<dialect>.sql; each backend only runs the
// files for its own dialect.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
