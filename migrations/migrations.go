// Package migrations embeds the SQL schema so the migrate command and
// the test harness share one source of truth.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
