// Package migrations holds the numbered PostgreSQL schema files.
package migrations

import "embed"

// Files contains every *.sql migration, applied in filename order.
//
//go:embed *.sql
var Files embed.FS
