// Package migrations embeds the Postgres schema used by the history store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
