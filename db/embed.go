// Package db embeds the SQL migrations applied at startup.
package db

import "embed"

// Migrations holds the goose migrations under the "migrations" directory.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations.
const MigrationsDir = "migrations"
