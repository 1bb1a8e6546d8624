package schema

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/llforeman/shifty/internal/db"
)

func sqliteInspector(t *testing.T) (*sql.DB, *Inspector) {
	t.Helper()

	conn, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	stmts := []string{
		`CREATE TABLE service (id INTEGER PRIMARY KEY, name VARCHAR(100) NOT NULL)`,
		`CREATE TABLE pediatrician (
			id INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			service_id INTEGER REFERENCES service(id)
		)`,
		`CREATE TABLE chat_message (
			id INTEGER PRIMARY KEY,
			sender_id INTEGER NOT NULL,
			body TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	return conn, NewInspector(conn, db.DialectSQLite)
}

func TestInspectorSQLite(t *testing.T) {
	_, in := sqliteInspector(t)
	ctx := context.Background()

	t.Run("has_table", func(t *testing.T) {
		ok, err := in.HasTable(ctx, "pediatrician")
		if err != nil || !ok {
			t.Fatalf("HasTable(pediatrician) = %v, %v", ok, err)
		}
		ok, err = in.HasTable(ctx, "shift")
		if err != nil || ok {
			t.Fatalf("HasTable(shift) = %v, %v, want false", ok, err)
		}
	})

	t.Run("tables", func(t *testing.T) {
		tables, err := in.Tables(ctx)
		if err != nil {
			t.Fatalf("Tables() error = %v", err)
		}
		want := []string{"chat_message", "pediatrician", "service"}
		if len(tables) != len(want) {
			t.Fatalf("Tables() = %v, want %v", tables, want)
		}
		for i := range want {
			if tables[i] != want[i] {
				t.Errorf("Tables()[%d] = %q, want %q", i, tables[i], want[i])
			}
		}
	})

	t.Run("columns", func(t *testing.T) {
		cols, err := in.Columns(ctx, "pediatrician")
		if err != nil {
			t.Fatalf("Columns() error = %v", err)
		}
		if len(cols) != 3 {
			t.Fatalf("Columns() = %+v, want 3 columns", cols)
		}
		if cols[0].Name != "id" || !cols[0].PrimaryKey {
			t.Errorf("first column = %+v, want id pk", cols[0])
		}
		if cols[1].Name != "name" || cols[1].Nullable {
			t.Errorf("name column = %+v, want not null", cols[1])
		}
		if cols[2].Name != "service_id" || !cols[2].Nullable || !IsIntegerType(cols[2].Type) {
			t.Errorf("service_id column = %+v, want nullable integer", cols[2])
		}
	})

	t.Run("foreign_keys", func(t *testing.T) {
		fks, err := in.ForeignKeys(ctx, "pediatrician")
		if err != nil {
			t.Fatalf("ForeignKeys() error = %v", err)
		}
		if len(fks) != 1 {
			t.Fatalf("ForeignKeys() = %+v, want one", fks)
		}
		want := ForeignKey{Column: "service_id", RefTable: "service", RefColumn: "id"}
		if fks[0] != want {
			t.Errorf("ForeignKeys()[0] = %+v, want %+v", fks[0], want)
		}

		fks, err = in.ForeignKeys(ctx, "chat_message")
		if err != nil {
			t.Fatalf("ForeignKeys(chat_message) error = %v", err)
		}
		if len(fks) != 0 {
			t.Errorf("chat_message foreign keys = %+v, want none", fks)
		}
	})

	t.Run("rejects_bad_identifier", func(t *testing.T) {
		if _, err := in.Columns(ctx, "chat_message; DROP TABLE service"); err == nil {
			t.Error("Columns() accepted an unquotable identifier")
		}
	})
}

func TestIsIntegerType(t *testing.T) {
	tests := []struct {
		typ  string
		want bool
	}{
		{"INTEGER", true},
		{"integer", true},
		{"int", true},
		{"bigint", true},
		{"SMALLINT", true},
		{"int8", true},
		{"serial", true},
		{"TINYINT(1)", true},
		{"VARCHAR(100)", false},
		{"character varying", false},
		{"TEXT", false},
		{"numeric", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsIntegerType(tt.typ); got != tt.want {
			t.Errorf("IsIntegerType(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestRenderTable(t *testing.T) {
	out := RenderTable("chat_message", []Column{
		{Name: "id", Type: "INTEGER", PrimaryKey: true},
		{Name: "sender_id", Type: "INTEGER"},
		{Name: "body", Type: "TEXT"},
		{Name: "recipient_id", Type: "INTEGER", Nullable: true},
	})

	if !strings.HasPrefix(out, "chat_message\n") {
		t.Errorf("rendering should start with the table name:\n%s", out)
	}
	for _, wantLine := range []string{"id", "recipient_id", "not null", "pk"} {
		if !strings.Contains(out, wantLine) {
			t.Errorf("rendering missing %q:\n%s", wantLine, out)
		}
	}
}

func TestDiff(t *testing.T) {
	if d := Diff("recipient_id INTEGER null", "recipient_id INTEGER null"); d != "" {
		t.Errorf("Diff(equal) = %q, want empty", d)
	}
	if d := Diff("recipient_id INTEGER null", "recipient_id TEXT null"); d == "" {
		t.Error("Diff(different) should not be empty")
	}
}
