// Package migrations embeds the SQL schema applied at startup and by the
// migrate command.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
