// Package testutil wires test databases for the packages that need one.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/joho/godotenv"

	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/migrate"
)

// ProjectRoot returns the repository root, resolved from this file.
func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "../../")
}

// SQLiteDB opens a fresh file-backed SQLite database under the test's temp
// directory. The connection is closed when the test finishes.
func SQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shifty_test.db")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, db.Target{Dialect: db.DialectSQLite, DSN: path, Path: path})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Errorf("close sqlite: %v", err)
		}
	})
	return conn
}

// MigratedDB opens a fresh SQLite database with the full embedded history
// applied.
func MigratedDB(t *testing.T) *sql.DB {
	t.Helper()

	conn := SQLiteDB(t)
	runner, err := migrate.NewRunner(conn, db.DialectSQLite)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Up(ctx); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	return conn
}

// EnvDB opens the database named by TEST_DATABASE_URL and skips the test
// when the variable is unset. The postgres and mysql integration tests use
// it to reach a real server.
func EnvDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	if err := godotenv.Load(filepath.Join(ProjectRoot(), ".env")); err != nil && !os.IsNotExist(err) {
		t.Logf("failed to load .env file: %v", err)
	}

	raw := os.Getenv("TEST_DATABASE_URL")
	if raw == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}

	target, err := db.ParseURL(raw)
	if err != nil {
		t.Fatalf("parse TEST_DATABASE_URL: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := db.Open(ctx, target)
	if err != nil {
		t.Fatalf("open %s: %v", target.Dialect, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn, target.Dialect
}
