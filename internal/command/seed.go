package command

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/seed"
)

type seedConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// SeedCommand returns the seed command. It only ever adds missing keys;
// values the hospital has tuned stay untouched.
func SeedCommand(ctx context.Context) *cli.Command {
	cfg := &seedConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "seed").
		WithSynopsis("seed - insert missing scheduler defaults").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *seedConfig) run(cc *cli.Context, args []string) error {
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

	entry := audit.Entry{
		RunID:     audit.NewRunID(),
		Actor:     actor(),
		Action:    "seed",
		StartedAt: time.Now().UTC(),
	}

	res, seedErr := seed.Run(ctx, s.conn, s.target.Dialect)
	entry.Duration = time.Since(entry.StartedAt)

	if seedErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = seedErr.Error()
		s.record(ctx, entry)
		return seedErr
	}

	entry.Outcome = audit.OutcomeOK
	entry.Detail = fmt.Sprintf("%d config keys added", len(res.ConfigAdded))
	s.record(ctx, entry)

	renderSeed(cc.Out, res)
	return nil
}
