package migrations

import "github.com/llforeman/shifty/internal/db"

// dialect mirrors the goose.SetDialect call made by the runner so Go
// migrations can quote identifiers for the engine they run on.
var dialect = db.DialectSQLite

// SetDialect records the engine the history is about to run against.
func SetDialect(d string) { dialect = d }

func quoteUserTable() string { return db.QuoteIdent(dialect, "user") }
