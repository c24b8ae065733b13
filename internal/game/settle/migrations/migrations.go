// Package migrations embeds the SQL schema for the settlement outbox.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
