package command

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/inspect"
)

// InspectCommand groups the read-only queries the old check scripts ran.
func InspectCommand(ctx context.Context) *cli.Command {
	return cli.NewCommand("inspect").
		WithSynopsis("inspect - read-only looks at the scheduler data").
		WithSubs(
			InspectShiftsCommand(ctx),
			InspectPedsCommand(ctx),
			InspectTablesCommand(ctx),
			InspectConfigCommand(ctx),
		)
}

type inspectShiftsConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
	From       string `cli:"name=from desc='start date, YYYY-MM-DD, today by default'"`
	Limit      string `cli:"name=limit desc='maximum rows, 500 by default'"`
}

// InspectShiftsCommand returns the shifts subcommand.
func InspectShiftsCommand(ctx context.Context) *cli.Command {
	cfg := &inspectShiftsConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "shifts").
		WithSynopsis("shifts [--from YYYY-MM-DD] - upcoming assignments").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *inspectShiftsConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	from := time.Now()
	if cfg.From != "" {
		parsed, err := time.Parse("2006-01-02", cfg.From)
		if err != nil {
			return fmt.Errorf("%w: --from must be YYYY-MM-DD, got %q", cli.ErrUsage, cfg.From)
		}
		from = parsed
	}

	limit := 500
	if cfg.Limit != "" {
		parsed, err := strconv.Atoi(cfg.Limit)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("%w: --limit must be a positive number, got %q", cli.ErrUsage, cfg.Limit)
		}
		limit = parsed
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	shifts, err := inspect.Shifts(cfg.ctx, s.conn, s.target.Dialect, from, limit)
	if err != nil {
		return err
	}
	renderShifts(cc.Out, shifts)
	return nil
}

func renderShifts(w io.Writer, shifts []inspect.Shift) {
	if len(shifts) == 0 {
		fmt.Fprintln(w, "no shifts from that date on")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPEDIATRICIAN")
	for _, sh := range shifts {
		fmt.Fprintf(tw, "%s\t%s\n", sh.Date.Format("2006-01-02"), sh.Pediatrician)
	}
	tw.Flush()

	first := shifts[0].Date.Format("2006-01-02")
	last := shifts[len(shifts)-1].Date.Format("2006-01-02")
	fmt.Fprintf(w, "%d shifts, %s to %s\n", len(shifts), first, last)
}

type inspectPedsConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// InspectPedsCommand returns the peds subcommand.
func InspectPedsCommand(ctx context.Context) *cli.Command {
	cfg := &inspectPedsConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "peds").
		WithSynopsis("peds - the roster with shift counts").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *inspectPedsConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	peds, err := inspect.Pediatricians(cfg.ctx, s.conn, s.target.Dialect)
	if err != nil {
		return err
	}
	renderPeds(cc.Out, peds)
	return nil
}

func renderPeds(w io.Writer, peds []inspect.Pediatrician) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tMIR\tSHIFTS\tLIMITS")
	for _, p := range peds {
		mir := ""
		if p.MIR {
			mir = "mir"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d-%d\n",
			p.ID, p.Name, p.Type, mir, p.Shifts, p.MinShifts, p.MaxShifts)
	}
	tw.Flush()
}

type inspectTablesConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// InspectTablesCommand returns the tables subcommand.
func InspectTablesCommand(ctx context.Context) *cli.Command {
	cfg := &inspectTablesConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "tables").
		WithSynopsis("tables - every table with its row count").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *inspectTablesConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	tables, err := inspect.Tables(cfg.ctx, s.conn, s.target.Dialect)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cc.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tROWS")
	for _, tc := range tables {
		fmt.Fprintf(tw, "%s\t%d\n", tc.Name, tc.Rows)
	}
	tw.Flush()
	return nil
}

type inspectConfigConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// InspectConfigCommand returns the config subcommand.
func InspectConfigCommand(ctx context.Context) *cli.Command {
	cfg := &inspectConfigConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "config").
		WithSynopsis("config - the scheduler's global_config values").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *inspectConfigConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	s, err := openSession(cfg.ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	values, err := inspect.Config(cfg.ctx, s.conn, s.target.Dialect)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cc.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tVALUE")
	for _, v := range values {
		fmt.Fprintf(tw, "%s\t%s\n", v.Key, v.Value)
	}
	tw.Flush()
	return nil
}
