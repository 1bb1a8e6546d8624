// Package audit records every schema operation in the database it changed.
//
// Entries go to the schema_ops_log table, which the baseline migration
// creates. A database that predates the history may not have the table
// yet; recording then logs a warning and moves on, because losing an audit
// row must never block the operation that already ran.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/dberr"
)

const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Entry is one recorded operation.
type Entry struct {
	RunID     string
	Actor     string
	Action    string
	Target    string
	Outcome   string
	Detail    string
	StartedAt time.Time
	Duration  time.Duration
}

// Log writes and reads schema_ops_log.
type Log struct {
	db      *sql.DB
	dialect string
}

func New(conn *sql.DB, dialect string) *Log {
	return &Log{db: conn, dialect: dialect}
}

// NewRunID returns the id that groups one invocation's entries.
func NewRunID() string { return uuid.NewString() }

// Record inserts one entry. A missing schema_ops_log table is logged and
// swallowed so a pre-history database can still be operated on.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.StartedAt.IsZero() {
		e.StartedAt = time.Now().UTC()
	}

	query := db.Rebind(l.dialect, `INSERT INTO schema_ops_log
		(run_id, actor, action, target, outcome, detail, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := l.db.ExecContext(ctx, query,
		e.RunID, e.Actor, e.Action, e.Target, e.Outcome, e.Detail,
		e.StartedAt, e.Duration.Milliseconds(),
	)
	if err != nil {
		if dberr.IsUndefinedTable(err) {
			log.Printf("audit: schema_ops_log missing, entry dropped: %v", err)
			return nil
		}
		return fmt.Errorf("internal/audit: record: %w", err)
	}
	return nil
}

// Tail returns the most recent n entries, newest first.
func (l *Log) Tail(ctx context.Context, n int) ([]Entry, error) {
	query := db.Rebind(l.dialect, `SELECT run_id, actor, action, target, outcome, detail, started_at, duration_ms
		FROM schema_ops_log ORDER BY id DESC LIMIT ?`)
	rows, err := l.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("internal/audit: tail: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var detail sql.NullString
		var ms int64
		if err := rows.Scan(&e.RunID, &e.Actor, &e.Action, &e.Target, &e.Outcome, &detail, &e.StartedAt, &ms); err != nil {
			return nil, fmt.Errorf("internal/audit: scan: %w", err)
		}
		e.Detail = detail.String
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("internal/audit: tail: %w", err)
	}
	return entries, nil
}
