// Package lock serializes schema operations against a shared database.
//
// Two people applying hotfixes at the same time was a real failure mode of
// the script era. Server engines carry a native lock: an advisory lock on
// postgres, GET_LOCK on mysql. SQLite needs none because the file is
// single writer. A redis lock can be layered on top for fleets where the
// database lock does not cover everyone.
package lock

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/llforeman/shifty/internal/db"
)

// Locker serializes one operation against everyone holding the same lock.
// Acquire blocks until the lock is held or the context ends.
type Locker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

const (
	// Every console contends on the same fixed key, whatever it is doing.
	advisoryKey   = 974_031_117
	mysqlLockName = "shifty_schema_ops"
	retryInterval = 500 * time.Millisecond
)

// ForTarget returns the native lock for the engine.
func ForTarget(conn *sql.DB, dialect string) Locker {
	switch dialect {
	case db.DialectPostgres:
		return &pgLock{db: conn}
	case db.DialectMySQL:
		return &mysqlLock{db: conn}
	}
	// SQLite's file lock already serializes writers.
	return noopLock{}
}

type noopLock struct{}

func (noopLock) Acquire(context.Context) error { return nil }
func (noopLock) Release(context.Context) error { return nil }

// pgLock holds an advisory lock on a pinned connection. The lock belongs
// to the session, so the same connection must carry acquire and release.
type pgLock struct {
	db   *sql.DB
	conn *sql.Conn
}

func (l *pgLock) Acquire(ctx context.Context) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("internal/lock: pin connection: %w", err)
	}

	for {
		var got bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, advisoryKey).Scan(&got); err != nil {
			conn.Close()
			return fmt.Errorf("internal/lock: try advisory lock: %w", err)
		}
		if got {
			l.conn = conn
			return nil
		}

		select {
		case <-ctx.Done():
			conn.Close()
			return fmt.Errorf("internal/lock: waiting for advisory lock: %w", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

func (l *pgLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()

	var released bool
	if err := l.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1)`, advisoryKey).Scan(&released); err != nil {
		return fmt.Errorf("internal/lock: advisory unlock: %w", err)
	}
	if !released {
		return fmt.Errorf("internal/lock: advisory lock was not held")
	}
	return nil
}

// mysqlLock holds GET_LOCK on a pinned connection.
type mysqlLock struct {
	db   *sql.DB
	conn *sql.Conn
}

func (l *mysqlLock) Acquire(ctx context.Context) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("internal/lock: pin connection: %w", err)
	}

	for {
		// GET_LOCK returns 1 when held, 0 on timeout, NULL on error.
		var got sql.NullInt64
		if err := conn.QueryRowContext(ctx, `SELECT GET_LOCK(?, 0)`, mysqlLockName).Scan(&got); err != nil {
			conn.Close()
			return fmt.Errorf("internal/lock: get_lock: %w", err)
		}
		if got.Valid && got.Int64 == 1 {
			l.conn = conn
			return nil
		}
		if !got.Valid {
			conn.Close()
			return fmt.Errorf("internal/lock: get_lock returned null")
		}

		select {
		case <-ctx.Done():
			conn.Close()
			return fmt.Errorf("internal/lock: waiting for get_lock: %w", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

func (l *mysqlLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()

	var released sql.NullInt64
	if err := l.conn.QueryRowContext(ctx, `SELECT RELEASE_LOCK(?)`, mysqlLockName).Scan(&released); err != nil {
		return fmt.Errorf("internal/lock: release_lock: %w", err)
	}
	if !released.Valid || released.Int64 != 1 {
		return fmt.Errorf("internal/lock: lock was not held by this session")
	}
	return nil
}

// Multi combines lockers: acquire in order, release in reverse. A failed
// acquire releases whatever was already held.
type Multi []Locker

func (m Multi) Acquire(ctx context.Context) error {
	for i, l := range m {
		if err := l.Acquire(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if rerr := m[j].Release(ctx); rerr != nil {
					log.Printf("failed to release lock %d after acquire error: %v", j, rerr)
				}
			}
			return err
		}
	}
	return nil
}

func (m Multi) Release(ctx context.Context) error {
	var first error
	for i := len(m) - 1; i >= 0; i-- {
		if err := m[i].Release(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
