// Package migrations embeds the SQL migration files into the binary so
// database.Migrate needs nothing on the filesystem.
package migrations

import "embed"

// FS holds every *.sql file in this directory, at the root of the FS.
//
//go:embed *.sql
var FS embed.FS
