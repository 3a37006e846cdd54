package migrations

import "embed"

// Migrations holds the golang-migrate files for the token record schema.
//
//go:embed *.sql
var Migrations embed.FS
