// Package migrations carries the versioned history of the scheduler
// database: one SQL directory per engine plus portable Go migrations.
//
// The history starts squashed. 00001 is a snapshot of every table the
// ad-hoc script era left behind, written with IF NOT EXISTS so an existing
// production database adopts the history without being touched.
package migrations

import "embed"

//go:embed sql
var Files embed.FS
