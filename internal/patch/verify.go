package patch

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/llforeman/shifty/internal/schema"
)

// CheckResult is the outcome of one declared check. Detail is empty when
// the check passed; on a column mismatch it carries a rendered diff of the
// expected column against the observed one.
type CheckResult struct {
	Check  Check
	OK     bool
	Detail string
}

// Describe renders a check for status output.
func (c Check) Describe() string {
	switch c.Type {
	case "column":
		return fmt.Sprintf("column %s.%s exists", c.Table, c.Column)
	case "no-column":
		return fmt.Sprintf("column %s.%s absent", c.Table, c.Column)
	case "no-foreign-key":
		return fmt.Sprintf("no foreign key on %s.%s", c.Table, c.Column)
	case "no-table":
		return fmt.Sprintf("table %s absent", c.Table)
	}
	return c.Type
}

// Verify evaluates the patch's declared checks against the live schema. It
// never modifies anything, so it is safe to run before an apply to see
// whether the patch already landed.
func Verify(ctx context.Context, conn *sql.DB, dialect string, p *Patch) ([]CheckResult, error) {
	in := schema.NewInspector(conn, dialect)

	results := make([]CheckResult, 0, len(p.Checks))
	for _, c := range p.Checks {
		res, err := runCheck(ctx, in, c)
		if err != nil {
			return nil, fmt.Errorf("internal/patch: check %q: %w", c.Describe(), err)
		}
		results = append(results, res)
	}
	return results, nil
}

func runCheck(ctx context.Context, in *schema.Inspector, c Check) (CheckResult, error) {
	switch c.Type {
	case "column":
		return checkColumn(ctx, in, c)
	case "no-column":
		return checkNoColumn(ctx, in, c)
	case "no-foreign-key":
		return checkNoForeignKey(ctx, in, c)
	case "no-table":
		return checkNoTable(ctx, in, c)
	}
	return CheckResult{}, fmt.Errorf("unknown check type %q", c.Type)
}

func checkColumn(ctx context.Context, in *schema.Inspector, c Check) (CheckResult, error) {
	ok, err := in.HasTable(ctx, c.Table)
	if err != nil {
		return CheckResult{}, err
	}
	if !ok {
		return CheckResult{Check: c, Detail: fmt.Sprintf("table %s does not exist", c.Table)}, nil
	}

	cols, err := in.Columns(ctx, c.Table)
	if err != nil {
		return CheckResult{}, err
	}
	for _, col := range cols {
		if col.Name != c.Column {
			continue
		}
		if (c.Integer && !schema.IsIntegerType(col.Type)) || (c.Nullable && !col.Nullable) {
			want := col
			if c.Integer {
				want.Type = "INTEGER"
			}
			if c.Nullable {
				want.Nullable = true
			}
			return CheckResult{Check: c, Detail: schema.Diff(schema.ColumnSpec(want), schema.ColumnSpec(col))}, nil
		}
		return CheckResult{Check: c, OK: true}, nil
	}
	return CheckResult{Check: c, Detail: fmt.Sprintf("column %s not found in %s", c.Column, c.Table)}, nil
}

func checkNoColumn(ctx context.Context, in *schema.Inspector, c Check) (CheckResult, error) {
	ok, err := in.HasTable(ctx, c.Table)
	if err != nil {
		return CheckResult{}, err
	}
	if !ok {
		return CheckResult{Check: c, OK: true, Detail: fmt.Sprintf("table %s does not exist", c.Table)}, nil
	}

	cols, err := in.Columns(ctx, c.Table)
	if err != nil {
		return CheckResult{}, err
	}
	for _, col := range cols {
		if col.Name == c.Column {
			return CheckResult{Check: c, Detail: fmt.Sprintf("column present as %q", schema.ColumnSpec(col))}, nil
		}
	}
	return CheckResult{Check: c, OK: true}, nil
}

func checkNoForeignKey(ctx context.Context, in *schema.Inspector, c Check) (CheckResult, error) {
	ok, err := in.HasTable(ctx, c.Table)
	if err != nil {
		return CheckResult{}, err
	}
	if !ok {
		return CheckResult{Check: c, Detail: fmt.Sprintf("table %s does not exist", c.Table)}, nil
	}

	fks, err := in.ForeignKeys(ctx, c.Table)
	if err != nil {
		return CheckResult{}, err
	}
	for _, fk := range fks {
		if fk.Column == c.Column {
			detail := fmt.Sprintf("foreign key to %s.%s", fk.RefTable, fk.RefColumn)
			return CheckResult{Check: c, Detail: detail}, nil
		}
	}
	return CheckResult{Check: c, OK: true}, nil
}

func checkNoTable(ctx context.Context, in *schema.Inspector, c Check) (CheckResult, error) {
	ok, err := in.HasTable(ctx, c.Table)
	if err != nil {
		return CheckResult{}, err
	}
	if ok {
		return CheckResult{Check: c, Detail: fmt.Sprintf("table %s still exists", c.Table)}, nil
	}
	return CheckResult{Check: c, OK: true}, nil
}
