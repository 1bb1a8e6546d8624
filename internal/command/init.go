package command

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/migrate"
	"github.com/llforeman/shifty/internal/seed"
)

type initConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// InitCommand returns the init command: the full history plus the scheduler
// defaults, in one shot. Safe on an existing database; everything it does
// is additive.
func InitCommand(ctx context.Context) *cli.Command {
	cfg := &initConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "init").
		WithSynopsis("init - migrate from zero, then seed defaults").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *initConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	ctx := cfg.ctx
	s, err := openSession(ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

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
		Action:    "init",
		StartedAt: time.Now().UTC(),
	}

	res, initErr := runInit(ctx, s, runner)
	entry.Duration = time.Since(entry.StartedAt)
	entry.Target = fmt.Sprintf("version %d", res.version)

	if initErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = initErr.Error()
		s.record(ctx, entry)
		return initErr
	}

	entry.Outcome = audit.OutcomeOK
	entry.Detail = fmt.Sprintf("%d config keys added", len(res.seeded.ConfigAdded))
	s.record(ctx, entry)

	renderInit(cc.Out, res)
	return nil
}

type initResult struct {
	version int64
	seeded  seed.Result
}

func runInit(ctx context.Context, s *session, runner *migrate.Runner) (initResult, error) {
	var res initResult

	if err := runner.Up(ctx); err != nil {
		return res, err
	}

	version, err := runner.Version(ctx)
	if err != nil {
		return res, err
	}
	res.version = version

	seeded, err := seed.Run(ctx, s.conn, s.target.Dialect)
	if err != nil {
		return res, err
	}
	res.seeded = seeded
	return res, nil
}

func renderInit(w io.Writer, res initResult) {
	fmt.Fprintf(w, "%s history at version %d\n", color.GreenString("ok"), res.version)
	renderSeed(w, res.seeded)
}

func renderSeed(w io.Writer, res seed.Result) {
	if len(res.ConfigAdded) == 0 {
		fmt.Fprintln(w, "config: all keys already present")
	} else {
		fmt.Fprintf(w, "config: added %d keys (%s)\n", len(res.ConfigAdded), strings.Join(res.ConfigAdded, ", "))
	}
	if res.DemoPediatrician {
		fmt.Fprintln(w, "roster: empty, seeded the demo pediatrician")
	}
}
