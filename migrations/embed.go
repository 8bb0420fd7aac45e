package migrations

import "embed"

// FS carries the kv_entries schema history compiled into the tempo binary,
// so deployments never depend on migration files being present on disk.
//
//go:embed *.sql
var FS embed.FS
