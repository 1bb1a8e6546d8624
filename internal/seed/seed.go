// Package seed fills a migrated database with the scheduler's baseline
// rows: the solver tuning parameters and, when the roster is empty, a demo
// pediatrician so the calendar has something to render.
package seed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/llforeman/shifty/internal/db"
)

// KV is one global_config row.
type KV struct {
	Key   string
	Value string
}

// Defaults are the solver's tuning parameters. Values are stored as
// strings; the scheduler parses them on read.
var Defaults = []KV{
	{"S1", "2"},
	{"S2", "2"},
	{"M_START", "3"},
	{"M_MIN", "1"},
	{"BALANCE_ALPHA", "1.0"},
	{"USE_LEXICOGRAPHIC_FAIRNESS", "True"},
	{"PENALTY_PREFER_NOT_DAY", "10"},
	{"PENALTY_MISS_PREFERRED_DAY", "8"},
	{"PENALTY_EXCESS_WEEKLY_SHIFTS", "5"},
	{"PENALTY_REPEATED_WEEKDAY", "30"},
	{"PENALTY_REPEATED_PAIRING", "35"},
	{"PENALTY_MONTHLY_BALANCE", "60"},
	{"PENALTY_SHIFT_LIMIT_VIOLATION", "500"},
	{"PENALTY_WEEKEND_LIMIT_VIOLATION", "400"},
}

// Result reports what a seeding run changed.
type Result struct {
	ConfigAdded      []string
	DemoPediatrician bool
}

// Run inserts the missing config keys and, if the roster is empty, the
// demo pediatrician. Existing values are never overwritten; operators tune
// them in production.
func Run(ctx context.Context, conn *sql.DB, dialect string) (Result, error) {
	var res Result

	// "key" needs quoting on mysql, where KEY is reserved.
	keyCol := db.QuoteIdent(dialect, "key")
	exists := db.Rebind(dialect, fmt.Sprintf(`SELECT COUNT(*) FROM global_config WHERE %s = ?`, keyCol))
	insert := db.Rebind(dialect, fmt.Sprintf(`INSERT INTO global_config (%s, value) VALUES (?, ?)`, keyCol))

	for _, kv := range Defaults {
		var n int
		if err := conn.QueryRowContext(ctx, exists, kv.Key).Scan(&n); err != nil {
			return res, fmt.Errorf("internal/seed: check %s: %w", kv.Key, err)
		}
		if n > 0 {
			continue
		}
		if _, err := conn.ExecContext(ctx, insert, kv.Key, kv.Value); err != nil {
			return res, fmt.Errorf("internal/seed: insert %s: %w", kv.Key, err)
		}
		res.ConfigAdded = append(res.ConfigAdded, kv.Key)
	}

	var peds int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pediatrician`).Scan(&peds); err != nil {
		return res, fmt.Errorf("internal/seed: count pediatricians: %w", err)
	}
	if peds == 0 {
		insertPed := db.Rebind(dialect, `INSERT INTO pediatrician
			(name, min_shifts, max_shifts, min_weekend, max_weekend)
			VALUES (?, ?, ?, ?, ?)`)
		if _, err := conn.ExecContext(ctx, insertPed, "Dr. Test User", 3, 6, 1, 2); err != nil {
			return res, fmt.Errorf("internal/seed: insert demo pediatrician: %w", err)
		}
		res.DemoPediatrician = true
	}

	return res, nil
}
