package command

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/migrate"
	"github.com/llforeman/shifty/internal/patch"
)

// describe names the target without leaking credentials.
func describe(t db.Target) string {
	switch t.Dialect {
	case db.DialectSQLite:
		return t.Dialect + " " + t.Path
	case db.DialectMySQL:
		return fmt.Sprintf("%s %s@%s:%s/%s", t.Dialect, t.User, t.Host, t.Port, t.Name)
	case db.DialectPostgres:
		return t.Dialect + " " + db.Redact(t.DSN)
	default:
		return t.Dialect
	}
}

type statusConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// StatusCommand returns the status command: one screen answering "what
// state is this database in", the question the old scripts each answered
// a fragment of.
func StatusCommand(ctx context.Context) *cli.Command {
	cfg := &statusConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "status").
		WithSynopsis("status - database, history and patch state").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *statusConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	ctx := cfg.ctx
	s, err := openSession(ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintf(cc.Out, "database: %s\n", describe(s.target))

	runner, err := migrate.NewRunner(s.conn, s.target.Dialect)
	if err != nil {
		return err
	}
	version, err := runner.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cc.Out, "history:  version %d\n\n", version)

	statuses, err := runner.Statuses(ctx)
	if err != nil {
		return err
	}
	renderMigrationStatuses(cc.Out, statuses)

	patches, err := patch.All()
	if err != nil {
		return err
	}
	fmt.Fprintf(cc.Out, "\npatches:\n")
	for _, p := range patches {
		state, err := patchState(ctx, s, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cc.Out, "  %-24s %s\n", p.Name, state)
	}

	entries, err := audit.New(s.conn, s.target.Dialect).Tail(ctx, 5)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		fmt.Fprintf(cc.Out, "\nrecent runs:\n")
		renderRuns(cc.Out, entries)
	}

	return nil
}

// patchState reduces a patch's checks to one word for the status screen.
func patchState(ctx context.Context, s *session, p *patch.Patch) (string, error) {
	if !p.SupportsDialect(s.target.Dialect) {
		return "not for " + s.target.Dialect, nil
	}

	results, err := patch.Verify(ctx, s.conn, s.target.Dialect, p)
	if err != nil {
		return "", err
	}
	for _, res := range results {
		if !res.OK {
			return color.YellowString("pending"), nil
		}
	}
	return color.GreenString("applied"), nil
}

func renderRuns(w io.Writer, entries []audit.Entry) {
	for _, e := range entries {
		outcome := color.GreenString(e.Outcome)
		if e.Outcome != audit.OutcomeOK {
			outcome = color.RedString(e.Outcome)
		}
		line := fmt.Sprintf("  %s %s %s", e.StartedAt.Format(time.RFC3339), outcome, e.Action)
		if e.Target != "" {
			line += " " + e.Target
		}
		fmt.Fprintf(w, "%s (%s, %dms)\n", line, e.Actor, e.Duration.Milliseconds())
	}
}
