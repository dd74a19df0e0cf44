// Package migrations bundles the schema for each supported database.
package migrations

import "embed"

// Embedded migration files bundled at compile time so a single binary can
// create its own schema.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

//go:embed postgres/*.sql
var PostgresMigrations embed.FS
