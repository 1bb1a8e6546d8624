package patch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/llforeman/shifty/internal/dberr"
)

// StatementResult records one executed statement for the operations log.
type StatementResult struct {
	Index    int
	SQL      string
	Duration time.Duration
}

// Apply runs the patch's statements in order, outside any transaction.
// There is no existence probe: re-applying a patch fails with the engine's
// duplicate error. The first failure stops the run and earlier statements
// stay applied, exactly as the hand-run scripts behaved. Callers inspect
// the error with the dberr helpers to tell "already applied" from a real
// failure.
func Apply(ctx context.Context, conn *sql.DB, dialect string, p *Patch) ([]StatementResult, error) {
	if !p.SupportsDialect(dialect) {
		return nil, fmt.Errorf("internal/patch: %s does not apply to %s", p.Name, dialect)
	}

	var results []StatementResult
	for i, stmt := range p.Statements() {
		start := time.Now()
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return results, fmt.Errorf("internal/patch: %s statement %d: %w", p.Name, i+1, dberr.Wrap(err))
		}
		results = append(results, StatementResult{
			Index:    i + 1,
			SQL:      stmt,
			Duration: time.Since(start),
		})
	}
	return results, nil
}
