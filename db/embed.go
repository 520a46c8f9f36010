// Package db provides the embedded database migrations.
package db

import "embed"

// Migrations holds the golang-migrate files in the migrations directory.
//
//go:embed migrations/*.sql
var Migrations embed.FS
