// Package inspect offers the read-only queries behind the inspect
// commands: a quick look at the data without opening a database shell.
package inspect

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/schema"
)

// Shift is one assignment with its roster name resolved.
type Shift struct {
	ID           int64
	Pediatrician string
	Date         time.Time
}

// Pediatrician is one roster row with its shift count.
type Pediatrician struct {
	ID        int64
	Name      string
	Type      string
	MIR       bool
	MinShifts int
	MaxShifts int
	Shifts    int
}

// TableCount pairs a table with its row count.
type TableCount struct {
	Name string
	Rows int64
}

// ConfigValue is one global_config row.
type ConfigValue struct {
	Key   string
	Value string
}

// Shifts lists assignments from a date forward, oldest first. The date is
// compared as ISO text, which every engine orders correctly.
func Shifts(ctx context.Context, conn *sql.DB, dialect string, from time.Time, limit int) ([]Shift, error) {
	query := db.Rebind(dialect, `SELECT s.id, p.name, s.date
		FROM shift s
		JOIN pediatrician p ON p.id = s.pediatrician_id
		WHERE s.date >= ?
		ORDER BY s.date, s.id
		LIMIT ?`)
	rows, err := conn.QueryContext(ctx, query, from.Format("2006-01-02"), limit)
	if err != nil {
		return nil, fmt.Errorf("internal/inspect: list shifts: %w", err)
	}
	defer rows.Close()

	var shifts []Shift
	for rows.Next() {
		var s Shift
		if err := rows.Scan(&s.ID, &s.Pediatrician, &s.Date); err != nil {
			return nil, fmt.Errorf("internal/inspect: scan shift: %w", err)
		}
		shifts = append(shifts, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("internal/inspect: list shifts: %w", err)
	}
	return shifts, nil
}

// Pediatricians lists the roster with per-person shift counts.
func Pediatricians(ctx context.Context, conn *sql.DB, dialect string) ([]Pediatrician, error) {
	query := `SELECT p.id, p.name, COALESCE(p.type, ''), COALESCE(p.mir, FALSE),
			COALESCE(p.min_shifts, 0), COALESCE(p.max_shifts, 0), COUNT(s.id)
		FROM pediatrician p
		LEFT JOIN shift s ON s.pediatrician_id = p.id
		GROUP BY p.id, p.name, p.type, p.mir, p.min_shifts, p.max_shifts
		ORDER BY p.name`
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("internal/inspect: list pediatricians: %w", err)
	}
	defer rows.Close()

	var peds []Pediatrician
	for rows.Next() {
		var p Pediatrician
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.MIR, &p.MinShifts, &p.MaxShifts, &p.Shifts); err != nil {
			return nil, fmt.Errorf("internal/inspect: scan pediatrician: %w", err)
		}
		peds = append(peds, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("internal/inspect: list pediatricians: %w", err)
	}
	return peds, nil
}

// Tables lists every table with its row count.
func Tables(ctx context.Context, conn *sql.DB, dialect string) ([]TableCount, error) {
	in := schema.NewInspector(conn, dialect)
	names, err := in.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("internal/inspect: list tables: %w", err)
	}

	counts := make([]TableCount, 0, len(names))
	for _, name := range names {
		// Names come from the catalog, not from user input.
		var n int64
		q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, db.QuoteIdent(dialect, name))
		if err := conn.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("internal/inspect: count %s: %w", name, err)
		}
		counts = append(counts, TableCount{Name: name, Rows: n})
	}
	return counts, nil
}

// Config lists the solver parameters in key order.
func Config(ctx context.Context, conn *sql.DB, dialect string) ([]ConfigValue, error) {
	keyCol := db.QuoteIdent(dialect, "key")
	query := fmt.Sprintf(`SELECT %s, value FROM global_config ORDER BY %s`, keyCol, keyCol)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("internal/inspect: list config: %w", err)
	}
	defer rows.Close()

	var values []ConfigValue
	for rows.Next() {
		var v ConfigValue
		if err := rows.Scan(&v.Key, &v.Value); err != nil {
			return nil, fmt.Errorf("internal/inspect: scan config: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("internal/inspect: list config: %w", err)
	}
	return values, nil
}
