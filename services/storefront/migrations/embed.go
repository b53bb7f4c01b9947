// Package migrations embeds the storefront schema so the service can
// apply it at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
