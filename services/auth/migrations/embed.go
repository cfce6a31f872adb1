// Package migrations embeds the SQL schema for the auth service.
package migrations

import "embed"

// FS holds the *.sql migration files.
//
//go:embed *.sql
var FS embed.FS
