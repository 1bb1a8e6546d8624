package dberr

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/mattn/go-sqlite3"
)

func TestClassifyTyped(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"pg_duplicate_column", &pgconn.PgError{Code: "42701"}, DuplicateColumn},
		{"pg_duplicate_table", &pgconn.PgError{Code: "42P07"}, DuplicateTable},
		{"pg_undefined_column", &pgconn.PgError{Code: "42703"}, UndefinedColumn},
		{"pg_undefined_table", &pgconn.PgError{Code: "42P01"}, UndefinedTable},
		{"pg_unrelated_sqlstate", &pgconn.PgError{Code: "23505"}, Unknown},
		{"mysql_duplicate_column", &mysql.MySQLError{Number: 1060, Message: "Duplicate column name 'recipient_id'"}, DuplicateColumn},
		{"mysql_duplicate_table", &mysql.MySQLError{Number: 1050, Message: "Table 'chat_message' already exists"}, DuplicateTable},
		{"mysql_unknown_column", &mysql.MySQLError{Number: 1054, Message: "Unknown column 'recipient_id'"}, UndefinedColumn},
		{"mysql_missing_table", &mysql.MySQLError{Number: 1146, Message: "Table 'db.chat_message' doesn't exist"}, UndefinedTable},
		{"wrapped_typed_error", fmt.Errorf("statement 1: %w", &pgconn.PgError{Code: "42701"}), DuplicateColumn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want Kind
	}{
		{"sqlite_duplicate_column", "duplicate column name: recipient_id", DuplicateColumn},
		{"sqlite_duplicate_table", "table chat_message already exists", DuplicateTable},
		{"sqlite_no_such_column", "no such column: recipient_id", UndefinedColumn},
		{"sqlite_no_such_table", "no such table: chat_message", UndefinedTable},
		{"pg_text_duplicate_column", `ERROR: column "recipient_id" of relation "chat_message" already exists (SQLSTATE 42701)`, DuplicateColumn},
		{"pg_text_duplicate_table", `ERROR: relation "chat_message" already exists (SQLSTATE 42P07)`, DuplicateTable},
		{"pg_text_undefined_table", `ERROR: relation "chat_message" does not exist (SQLSTATE 42P01)`, UndefinedTable},
		{"pg_text_undefined_column", `ERROR: column "recipient_id" does not exist (SQLSTATE 42703)`, UndefinedColumn},
		{"unrelated", "connection refused", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(errors.New(tt.msg)); got != tt.want {
				t.Errorf("Classify(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("duplicate column name: recipient_id")

	wrapped := Wrap(base)
	var classified *Error
	if !errors.As(wrapped, &classified) {
		t.Fatalf("Wrap() did not produce a *Error: %T", wrapped)
	}
	if classified.Kind != DuplicateColumn {
		t.Errorf("Kind = %v, want %v", classified.Kind, DuplicateColumn)
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error lost the original")
	}

	// A second Classify through the wrapper must agree.
	if got := Classify(fmt.Errorf("apply: %w", wrapped)); got != DuplicateColumn {
		t.Errorf("Classify(rewrapped) = %v, want %v", got, DuplicateColumn)
	}

	// Unknown errors pass through without wrapping.
	plain := errors.New("connection refused")
	if got := Wrap(plain); got != plain {
		t.Errorf("Wrap(unknown) = %v, want the error unchanged", got)
	}

	if Wrap(nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

// TestClassifySQLiteLive runs the duplicate-column scenario against a real
// SQLite file, which is how the condition shows up in practice.
func TestClassifySQLiteLive(t *testing.T) {
	conn, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "classify.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Exec("CREATE TABLE chat_message (id INTEGER PRIMARY KEY, sender_id INTEGER NOT NULL, body TEXT NOT NULL)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := conn.Exec("ALTER TABLE chat_message ADD COLUMN recipient_id INTEGER"); err != nil {
		t.Fatalf("first alter should succeed: %v", err)
	}

	_, err = conn.Exec("ALTER TABLE chat_message ADD COLUMN recipient_id INTEGER")
	if err == nil {
		t.Fatal("second alter should fail")
	}
	if !IsDuplicateColumn(err) {
		t.Errorf("IsDuplicateColumn(%v) = false, want true", err)
	}

	_, err = conn.Exec("SELECT missing FROM chat_message")
	if !IsUndefinedColumn(err) {
		t.Errorf("IsUndefinedColumn(%v) = false, want true", err)
	}

	_, err = conn.Exec("SELECT 1 FROM missing_table")
	if !IsUndefinedTable(err) {
		t.Errorf("IsUndefinedTable(%v) = false, want true", err)
	}

	_, err = conn.Exec("CREATE TABLE chat_message (id INTEGER)")
	if !IsDuplicateTable(err) {
		t.Errorf("IsDuplicateTable(%v) = false, want true", err)
	}
}
