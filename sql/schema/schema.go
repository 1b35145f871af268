// Package schema embeds the PostgreSQL DDL applied at startup.
package schema

import "embed"

// FS holds the migration files in lexical apply order.
//
//go:embed *.sql
var FS embed.FS
