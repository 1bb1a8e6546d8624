// Package schema inspects live table structure on any of the supported
// engines. Patch checks and the console's table view both read through it.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"text/tabwriter"

	"github.com/llforeman/shifty/internal/db"
	"github.com/sergi/go-diff/diffmatchpatch"
)

type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

type Inspector struct {
	db      *sql.DB
	dialect string
}

func NewInspector(conn *sql.DB, dialect string) *Inspector {
	return &Inspector{db: conn, dialect: dialect}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// checkIdent rejects table names that cannot be spliced into a PRAGMA
// statement. Names reach us from CLI arguments and console paths.
func checkIdent(name string) error {
	if !identRe.MatchString(name) {
		return fmt.Errorf("internal/schema: invalid identifier %q", name)
	}
	return nil
}

func (in *Inspector) HasTable(ctx context.Context, table string) (bool, error) {
	if err := checkIdent(table); err != nil {
		return false, err
	}

	var query string
	switch in.dialect {
	case db.DialectPostgres:
		query = `SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = $1)`
	case db.DialectMySQL:
		query = `SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_name = ?)`
	default:
		query = `SELECT EXISTS (
			SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`
	}

	var exists bool
	if err := in.db.QueryRowContext(ctx, query, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("internal/schema: has table %s: %w", table, err)
	}
	return exists, nil
}

func (in *Inspector) Tables(ctx context.Context) ([]string, error) {
	var query string
	switch in.dialect {
	case db.DialectPostgres:
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	case db.DialectMySQL:
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = DATABASE() ORDER BY table_name`
	default:
		query = `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`
	}

	rows, err := in.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("internal/schema: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("internal/schema: scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Columns returns the table's columns in definition order.
func (in *Inspector) Columns(ctx context.Context, table string) ([]Column, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	switch in.dialect {
	case db.DialectPostgres:
		return in.columnsPostgres(ctx, table)
	case db.DialectMySQL:
		return in.columnsMySQL(ctx, table)
	default:
		return in.columnsSQLite(ctx, table)
	}
}

func (in *Inspector) columnsPostgres(ctx context.Context, table string) ([]Column, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("internal/schema: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, fmt.Errorf("internal/schema: scan column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	pkRows, err := in.db.QueryContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = current_schema() AND tc.table_name = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("internal/schema: primary key of %s: %w", table, err)
	}
	defer pkRows.Close()

	pk := map[string]bool{}
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, err
		}
		pk[name] = true
	}
	if err := pkRows.Err(); err != nil {
		return nil, err
	}

	for i := range cols {
		cols[i].PrimaryKey = pk[cols[i].Name]
	}
	return cols, nil
}

func (in *Inspector) columnsMySQL(ctx context.Context, table string) ([]Column, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES', column_key = 'PRI'
		FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("internal/schema: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.PrimaryKey); err != nil {
			return nil, fmt.Errorf("internal/schema: scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (in *Inspector) columnsSQLite(ctx context.Context, table string) ([]Column, error) {
	// PRAGMA takes no placeholders; table was validated by checkIdent.
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("internal/schema: columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("internal/schema: scan column: %w", err)
		}
		cols = append(cols, Column{
			Name:       name,
			Type:       typ,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		})
	}
	return cols, rows.Err()
}

func (in *Inspector) ForeignKeys(ctx context.Context, table string) ([]ForeignKey, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}

	switch in.dialect {
	case db.DialectPostgres:
		return in.fksPostgres(ctx, table)
	case db.DialectMySQL:
		return in.fksMySQL(ctx, table)
	default:
		return in.fksSQLite(ctx, table)
	}
}

func (in *Inspector) fksPostgres(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON tc.constraint_name = kcu.constraint_name
		 AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON tc.constraint_name = ccu.constraint_name
		 AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = current_schema() AND tc.table_name = $1`, table)
	if err != nil {
		return nil, fmt.Errorf("internal/schema: foreign keys of %s: %w", table, err)
	}
	defer rows.Close()
	return scanFKs(rows)
}

func (in *Inspector) fksMySQL(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := in.db.QueryContext(ctx, `
		SELECT column_name, referenced_table_name, referenced_column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE() AND table_name = ?
		  AND referenced_table_name IS NOT NULL`, table)
	if err != nil {
		return nil, fmt.Errorf("internal/schema: foreign keys of %s: %w", table, err)
	}
	defer rows.Close()
	return scanFKs(rows)
}

func scanFKs(rows *sql.Rows) ([]ForeignKey, error) {
	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Column, &fk.RefTable, &fk.RefColumn); err != nil {
			return nil, fmt.Errorf("internal/schema: scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (in *Inspector) fksSQLite(ctx context.Context, table string) ([]ForeignKey, error) {
	rows, err := in.db.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("internal/schema: foreign keys of %s: %w", table, err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var (
			id, seq                  int
			refTable, from           string
			to                       sql.NullString
			onUpdate, onDelete, mtch string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &mtch); err != nil {
			return nil, fmt.Errorf("internal/schema: scan foreign key: %w", err)
		}
		fk := ForeignKey{Column: from, RefTable: refTable, RefColumn: to.String}
		if !to.Valid {
			// Reference to the target's primary key without naming it.
			fk.RefColumn = "id"
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// IsIntegerType reports whether a column type, in any engine's spelling,
// holds integers.
func IsIntegerType(typ string) bool {
	typ = strings.ToLower(strings.TrimSpace(typ))
	if i := strings.IndexByte(typ, '('); i >= 0 {
		typ = typ[:i]
	}
	typ = strings.TrimSpace(typ)

	switch typ {
	case "int", "integer", "smallint", "mediumint", "bigint", "tinyint",
		"int2", "int4", "int8", "serial", "smallserial", "bigserial":
		return true
	}
	return false
}

// ColumnSpec renders one column the way RenderTable does, for check output.
func ColumnSpec(c Column) string {
	null := "null"
	if !c.Nullable {
		null = "not null"
	}
	spec := fmt.Sprintf("%s %s %s", c.Name, c.Type, null)
	if c.PrimaryKey {
		spec += " pk"
	}
	return spec
}

// RenderTable formats a table one column per line, aligned.
func RenderTable(table string, cols []Column) string {
	var b strings.Builder
	b.WriteString(table)
	b.WriteByte('\n')

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, c := range cols {
		null := "null"
		if !c.Nullable {
			null = "not null"
		}
		pk := ""
		if c.PrimaryKey {
			pk = "pk"
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", c.Name, c.Type, null, pk)
	}
	w.Flush()
	return b.String()
}

// Diff renders the difference between an expected and an observed rendering.
// Empty means no drift.
func Diff(want, got string) string {
	if want == got {
		return ""
	}
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(want, got, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.DiffPrettyText(diffs)
}
