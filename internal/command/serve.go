package command

import (
	"context"
	"log"

	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/announce"
	"github.com/llforeman/shifty/internal/console"
)

type serveConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
}

// ServeCommand returns the serve command, running the ops console until
// interrupted.
func ServeCommand(ctx context.Context) *cli.Command {
	cfg := &serveConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "serve").
		WithSynopsis("serve - authenticated ops console").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *serveConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	ctx := cfg.ctx
	s, err := openSession(ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	deps := console.Deps{Locker: s.locker(ctx)}

	if s.cfg.Events.NATSURL != "" {
		ann, err := announce.Dial(ctx, s.cfg.Events)
		if err != nil {
			// The console is useful without the shared feed; run degraded.
			log.Printf("failed to reach NATS, events stay local: %v", err)
		} else {
			deps.Announcer = ann
			defer ann.Close()
		}
	}

	srv, err := console.New(s.cfg.Console, s.conn, s.target.Dialect, deps)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
