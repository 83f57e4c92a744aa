// Package migrations holds the embedded SQL schema.
package migrations

import "embed"

// Files contains the SQL migrations bundled into the binary.
//
//go:embed *.sql
var Files embed.FS
