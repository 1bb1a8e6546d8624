package command

import (
	"context"
	"fmt"
	"io"
	"log"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/migrate"
)

// MigrateCommand groups the versioned history operations.
func MigrateCommand(ctx context.Context) *cli.Command {
	return cli.NewCommand("migrate").
		WithSynopsis("migrate - manage the versioned schema history").
		WithSubs(
			MigrateUpCommand(ctx),
			MigrateUpToCommand(ctx),
			MigrateDownCommand(ctx),
			MigrateRedoCommand(ctx),
			MigrateStatusCommand(ctx),
			MigrateVersionCommand(ctx),
			MigrateCreateCommand(),
		)
}

// runMigration wraps a history operation with the ops lock and the run log.
func (s *session) runMigration(ctx context.Context, out io.Writer, action string, fn func(*migrate.Runner) error) error {
	lk := s.locker(ctx)
	if err := lk.Acquire(ctx); err != nil {
		return fmt.Errorf("could not take the schema ops lock: %w", err)
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("failed to release the ops lock: %v", err)
		}
	}()

	runner, err := migrate.NewRunner(s.conn, s.target.Dialect)
	if err != nil {
		return err
	}

	entry := audit.Entry{
		RunID:     audit.NewRunID(),
		Actor:     actor(),
		Action:    action,
		StartedAt: time.Now().UTC(),
	}

	opErr := fn(runner)
	entry.Duration = time.Since(entry.StartedAt)

	version, verErr := runner.Version(ctx)
	if verErr != nil {
		log.Printf("failed to read schema version: %v", verErr)
	} else {
		entry.Target = fmt.Sprintf("version %d", version)
	}

	if opErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = opErr.Error()
		s.record(ctx, entry)
		return opErr
	}

	entry.Outcome = audit.OutcomeOK
	s.record(ctx, entry)
	fmt.Fprintf(out, "%s at version %d\n", color.GreenString("ok"), version)
	return nil
}

type migrateUpConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// MigrateUpCommand returns the up subcommand.
func MigrateUpCommand(ctx context.Context) *cli.Command {
	cfg := &migrateUpConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "up").
		WithSynopsis("up - apply pending history migrations").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *migrateUpConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.runMigration(cfg.ctx, cc.Out, "migrate.up", func(r *migrate.Runner) error {
		return r.Up(cfg.ctx)
	})
}

type migrateUpToConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// MigrateUpToCommand returns the up-to subcommand.
func MigrateUpToCommand(ctx context.Context) *cli.Command {
	cfg := &migrateUpToConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "up-to").
		WithSynopsis("up-to <version> - migrate up to a specific version").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *migrateUpToConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: shifty migrate up-to <version>", cli.ErrUsage)
	}
	version, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: version must be a number, got %q", cli.ErrUsage, args[0])
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.runMigration(cfg.ctx, cc.Out, "migrate.up-to", func(r *migrate.Runner) error {
		return r.UpTo(cfg.ctx, version)
	})
}

type migrateDownConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// MigrateDownCommand returns the down subcommand.
func MigrateDownCommand(ctx context.Context) *cli.Command {
	cfg := &migrateDownConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "down").
		WithSynopsis("down - roll back the last migration").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *migrateDownConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.runMigration(cfg.ctx, cc.Out, "migrate.down", func(r *migrate.Runner) error {
		return r.Down(cfg.ctx)
	})
}

type migrateRedoConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// MigrateRedoCommand returns the redo subcommand.
func MigrateRedoCommand(ctx context.Context) *cli.Command {
	cfg := &migrateRedoConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "redo").
		WithSynopsis("redo - roll back and re-apply the last migration").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *migrateRedoConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	return s.runMigration(cfg.ctx, cc.Out, "migrate.redo", func(r *migrate.Runner) error {
		return r.Redo(cfg.ctx)
	})
}

type migrateStatusConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// MigrateStatusCommand returns the status subcommand.
func MigrateStatusCommand(ctx context.Context) *cli.Command {
	cfg := &migrateStatusConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "status").
		WithSynopsis("status - per-migration applied state").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *migrateStatusConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	runner, err := migrate.NewRunner(s.conn, s.target.Dialect)
	if err != nil {
		return err
	}

	statuses, err := runner.Statuses(cfg.ctx)
	if err != nil {
		return err
	}

	renderMigrationStatuses(cc.Out, statuses)
	return nil
}

type migrateVersionConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// MigrateVersionCommand returns the version subcommand.
func MigrateVersionCommand(ctx context.Context) *cli.Command {
	cfg := &migrateVersionConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "version").
		WithSynopsis("version - current history version").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *migrateVersionConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	runner, err := migrate.NewRunner(s.conn, s.target.Dialect)
	if err != nil {
		return err
	}
	version, err := runner.Version(cfg.ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cc.Out, "version %d\n", version)
	return nil
}

func renderMigrationStatuses(w io.Writer, statuses []migrate.Status) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tSOURCE")
	for _, st := range statuses {
		state := color.YellowString("pending")
		if st.Applied {
			state = color.GreenString("applied")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", st.Version, state, st.Source)
	}
	tw.Flush()
}

type migrateCreateConfig struct {
	*cli.Command
	Dir  string `cli:"name=dir desc='migration directory in a source checkout'"`
	Type string `cli:"name=type aliases=t desc='migration type, sql or go'"`
}

// MigrateCreateCommand returns the create subcommand. It scaffolds into a
// source checkout; the file ships with the next build.
func MigrateCreateCommand() *cli.Command {
	cfg := &migrateCreateConfig{}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "create").
		WithSynopsis("create <name> - scaffold a new migration file").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *migrateCreateConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: shifty migrate create <name>", cli.ErrUsage)
	}

	dir := cfg.Dir
	if dir == "" {
		dir = "internal/migrations/sql/sqlite3"
	}
	mType := cfg.Type
	if mType == "" {
		mType = "sql"
	}

	if err := migrate.CreateFile(dir, args[0], mType); err != nil {
		return err
	}
	fmt.Fprintf(cc.Out, "created a %s migration for %s under %s\n", mType, args[0], dir)
	return nil
}
