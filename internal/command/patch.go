package command

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/dberr"
	"github.com/llforeman/shifty/internal/patch"
)

// PatchCommand groups the hotfix patch operations.
func PatchCommand(ctx context.Context) *cli.Command {
	return cli.NewCommand("patch").
		WithSynopsis("patch - embedded hotfix patches").
		WithSubs(
			PatchListCommand(),
			PatchShowCommand(),
			PatchApplyCommand(ctx),
			PatchVerifyCommand(ctx),
		)
}

type patchListConfig struct {
	*cli.Command
}

// PatchListCommand returns the list subcommand. It reads only the embedded
// registry, never the database.
func PatchListCommand() *cli.Command {
	cfg := &patchListConfig{}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "list").
		WithSynopsis("list - patches shipped in this build").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *patchListConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	patches, err := patch.All()
	if err != nil {
		return err
	}
	renderPatchList(cc.Out, patches)
	return nil
}

func renderPatchList(w io.Writer, patches []*patch.Patch) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTABLE\tENGINES\tSUMMARY")
	for _, p := range patches {
		engines := "all"
		if len(p.Engines) > 0 {
			engines = strings.Join(p.Engines, ",")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Table, engines, p.Summary)
	}
	tw.Flush()
}

type patchShowConfig struct {
	*cli.Command
}

// PatchShowCommand returns the show subcommand.
func PatchShowCommand() *cli.Command {
	cfg := &patchShowConfig{}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "show").
		WithSynopsis("show <name> - statements, notes and checks of a patch").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *patchShowConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: shifty patch show <name>", cli.ErrUsage)
	}

	p, err := patch.Get(args[0])
	if err != nil {
		return err
	}
	renderPatchShow(cc.Out, p)
	return nil
}

func renderPatchShow(w io.Writer, p *patch.Patch) {
	fmt.Fprintf(w, "%s\n", p.Name)
	fmt.Fprintf(w, "  table:   %s\n", p.Table)
	fmt.Fprintf(w, "  summary: %s\n", p.Summary)
	if len(p.Engines) > 0 {
		fmt.Fprintf(w, "  engines: %s\n", strings.Join(p.Engines, ", "))
	}
	if p.Notes != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimSpace(p.Notes))
	}

	fmt.Fprintf(w, "\nstatements:\n")
	for i, stmt := range p.Statements() {
		fmt.Fprintf(w, "  %d. %s\n", i+1, stmt)
	}

	if len(p.Checks) > 0 {
		fmt.Fprintf(w, "\nchecks:\n")
		for _, c := range p.Checks {
			fmt.Fprintf(w, "  - %s\n", c.Describe())
		}
	}
}

type patchApplyConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// PatchApplyCommand returns the apply subcommand.
func PatchApplyCommand(ctx context.Context) *cli.Command {
	cfg := &patchApplyConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "apply").
		WithSynopsis("apply <name> - run a patch, statement by statement").
		WithOpts(opts...).
		WithRun(cfg.run)
}

// run executes the patch the way the operator memo describes: straight DDL,
// no transaction, no existence probe. On failure it reports how far the run
// got and what the engine said; deciding what to do next is the operator's
// call, not the tool's.
func (cfg *patchApplyConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: shifty patch apply <name>", cli.ErrUsage)
	}

	p, err := patch.Get(args[0])
	if err != nil {
		return err
	}

	ctx := cfg.ctx
	s, err := openSession(ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	if !p.SupportsDialect(s.target.Dialect) {
		return fmt.Errorf("patch %s does not apply to %s", p.Name, s.target.Dialect)
	}

	lk := s.locker(ctx)
	if err := lk.Acquire(ctx); err != nil {
		return fmt.Errorf("could not take the schema ops lock: %w", err)
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("failed to release the ops lock: %v", err)
		}
	}()

	fmt.Fprintf(cc.Out, "applying %s to %s\n", p.Name, describe(s.target))

	entry := audit.Entry{
		RunID:     audit.NewRunID(),
		Actor:     actor(),
		Action:    "patch.apply",
		Target:    p.Name,
		StartedAt: time.Now().UTC(),
	}

	results, applyErr := patch.Apply(ctx, s.conn, s.target.Dialect, p)
	entry.Duration = time.Since(entry.StartedAt)

	for _, res := range results {
		fmt.Fprintf(cc.Out, "  %s %d. %s (%dms)\n",
			color.GreenString("ok"), res.Index, res.SQL, res.Duration.Milliseconds())
	}

	if applyErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = applyErr.Error()
		s.record(ctx, entry)

		fmt.Fprintf(cc.Out, "  %s %s\n", color.RedString("failed:"), applyErr)
		if dberr.IsDuplicateColumn(applyErr) || dberr.IsDuplicateTable(applyErr) {
			fmt.Fprintf(cc.Out, "the engine reports a %s; the patch may already be applied. Run\n", dberr.Classify(applyErr))
			fmt.Fprintf(cc.Out, "`shifty patch verify %s` to confirm the schema is in the patched state.\n", p.Name)
		}
		return cli.ExitCodeErr(1)
	}

	entry.Outcome = audit.OutcomeOK
	entry.Detail = fmt.Sprintf("%d statements", len(results))
	s.record(ctx, entry)

	fmt.Fprintf(cc.Out, "%s run %s\n", color.GreenString("applied"), entry.RunID)
	return nil
}

type patchVerifyConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// PatchVerifyCommand returns the verify subcommand.
func PatchVerifyCommand(ctx context.Context) *cli.Command {
	cfg := &patchVerifyConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "verify").
		WithSynopsis("verify <name> - run a patch's checks without applying it").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *patchVerifyConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return fmt.Errorf("%w: usage: shifty patch verify <name>", cli.ErrUsage)
	}

	p, err := patch.Get(args[0])
	if err != nil {
		return err
	}

	ctx := cfg.ctx
	s, err := openSession(ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	results, err := patch.Verify(ctx, s.conn, s.target.Dialect, p)
	if err != nil {
		return err
	}

	if renderChecks(cc.Out, results) {
		fmt.Fprintf(cc.Out, "%s %s is in the patched state\n", color.GreenString("ok"), p.Name)
		return nil
	}
	fmt.Fprintf(cc.Out, "%s %s has not been fully applied here\n", color.YellowString("pending"), p.Name)
	return cli.ExitCodeErr(1)
}

func renderChecks(w io.Writer, results []patch.CheckResult) bool {
	allOK := true
	for _, res := range results {
		mark := color.GreenString("ok")
		if !res.OK {
			allOK = false
			mark = color.RedString("fail")
		}
		line := res.Check.Describe()
		if res.Detail != "" {
			line += " (" + res.Detail + ")"
		}
		fmt.Fprintf(w, "  %-4s %s\n", mark, line)
	}
	return allOK
}
