package migrations

import "embed"

// FS holds the indexer schema migrations.
//go:embed *.sql
var FS embed.FS
