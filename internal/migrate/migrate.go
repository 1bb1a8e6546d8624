// Package migrate runs the embedded schema history against a database.
//
// It is a thin seam over goose: the runner pins the embedded filesystem and
// the engine dialect, and every command the CLI exposes maps onto one goose
// call. goose state is process-global, so one process drives one engine at
// a time, which is all a CLI ever does.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"path"

	"github.com/pressly/goose/v3"

	"github.com/llforeman/shifty/internal/migrations"
)

// Status describes one migration in the history and whether it has run.
type Status struct {
	Version int64
	Source  string
	Applied bool
}

type Runner struct {
	db  *sql.DB
	dir string
}

// NewRunner points goose at the embedded history for the given dialect.
func NewRunner(conn *sql.DB, dialect string) (*Runner, error) {
	goose.SetBaseFS(migrations.Files)
	if err := goose.SetDialect(dialect); err != nil {
		return nil, fmt.Errorf("internal/migrate: set dialect: %w", err)
	}
	migrations.SetDialect(dialect)
	return &Runner{db: conn, dir: path.Join("sql", dialect)}, nil
}

// Up applies every pending migration.
func (r *Runner) Up(ctx context.Context) error {
	if err := goose.UpContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("internal/migrate: up: %w", err)
	}
	return nil
}

// UpTo applies pending migrations up to and including version.
func (r *Runner) UpTo(ctx context.Context, version int64) error {
	if err := goose.UpToContext(ctx, r.db, r.dir, version); err != nil {
		return fmt.Errorf("internal/migrate: up to %d: %w", version, err)
	}
	return nil
}

// Down rolls back the most recent migration.
func (r *Runner) Down(ctx context.Context) error {
	if err := goose.DownContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("internal/migrate: down: %w", err)
	}
	return nil
}

// Redo rolls back the most recent migration and applies it again.
func (r *Runner) Redo(ctx context.Context) error {
	if err := goose.RedoContext(ctx, r.db, r.dir); err != nil {
		return fmt.Errorf("internal/migrate: redo: %w", err)
	}
	return nil
}

// Version reports the current database version, creating the version table
// on first contact.
func (r *Runner) Version(ctx context.Context) (int64, error) {
	v, err := goose.EnsureDBVersionContext(ctx, r.db)
	if err != nil {
		return 0, fmt.Errorf("internal/migrate: version: %w", err)
	}
	return v, nil
}

// Statuses lists the full history in version order with applied flags.
func (r *Runner) Statuses(ctx context.Context) ([]Status, error) {
	migs, err := goose.CollectMigrations(r.dir, 0, goose.MaxVersion)
	if err != nil {
		return nil, fmt.Errorf("internal/migrate: collect: %w", err)
	}
	current, err := r.Version(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, 0, len(migs))
	for _, m := range migs {
		statuses = append(statuses, Status{
			Version: m.Version,
			Source:  path.Base(m.Source),
			Applied: m.Version <= current,
		})
	}
	return statuses, nil
}

// CreateFile scaffolds a new migration in a source checkout. dir is a real
// directory on disk, not the embedded copy.
func CreateFile(dir, name, migrationType string) error {
	if err := goose.Create(nil, dir, name, migrationType); err != nil {
		return fmt.Errorf("internal/migrate: create: %w", err)
	}
	return nil
}
