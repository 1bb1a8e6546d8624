package command

import (
	"context"
	"fmt"
	"io"
	"log"
	"text/tabwriter"
	"time"

	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/provision"
)

// UsersCommand groups login provisioning.
func UsersCommand(ctx context.Context) *cli.Command {
	return cli.NewCommand("users").
		WithSynopsis("users - provision scheduler logins").
		WithSubs(
			UsersSyncCommand(ctx),
			UsersCreateCommand(ctx),
		)
}

type usersSyncConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
	Password   string `cli:"name=password aliases=p desc='bootstrap password for the new logins'"`
	Domain     string `cli:"name=domain desc='email domain, overrides config'"`
	Role       string `cli:"name=role desc='role for the new logins, overrides config'"`
}

// UsersSyncCommand returns the sync subcommand: a login for every
// pediatrician that has none. Every new login must change its password on
// first use, so the bootstrap password only has to survive a hallway
// conversation.
func UsersSyncCommand(ctx context.Context) *cli.Command {
	cfg := &usersSyncConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "sync").
		WithSynopsis("sync --password <pw> - create logins for pediatricians lacking one").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *usersSyncConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}
	if cfg.Password == "" {
		return fmt.Errorf("%w: usage: shifty users sync --password <pw>", cli.ErrUsage)
	}

	ctx := cfg.ctx
	s, err := openSession(ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	opts := provision.SyncOptions{
		Domain:          cfg.Domain,
		Role:            cfg.Role,
		InitialPassword: cfg.Password,
	}
	if opts.Domain == "" {
		opts.Domain = s.cfg.Provision.EmailDomain
	}
	if opts.Role == "" {
		opts.Role = s.cfg.Provision.DefaultRole
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

	entry := audit.Entry{
		RunID:     audit.NewRunID(),
		Actor:     actor(),
		Action:    "users.sync",
		StartedAt: time.Now().UTC(),
	}

	created, syncErr := provision.SyncUsers(ctx, s.conn, s.target.Dialect, opts)
	entry.Duration = time.Since(entry.StartedAt)

	if syncErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = syncErr.Error()
		s.record(ctx, entry)
		return syncErr
	}

	entry.Outcome = audit.OutcomeOK
	entry.Detail = fmt.Sprintf("%d logins created", len(created))
	s.record(ctx, entry)

	renderAccounts(cc.Out, created)
	return nil
}

func renderAccounts(w io.Writer, accounts []provision.Account) {
	if len(accounts) == 0 {
		fmt.Fprintln(w, "every pediatrician already has a login")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PED\tNAME\tEMAIL")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", a.PediatricianID, a.Name, a.Email)
	}
	tw.Flush()
	fmt.Fprintf(w, "%d logins created, all flagged to change their password\n", len(accounts))
}

type usersCreateConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
	Password   string `cli:"name=password aliases=p desc='password for the login'"`
	Role       string `cli:"name=role desc='role for the login, user by default'"`
}

// UsersCreateCommand returns the create subcommand for a single login.
func UsersCreateCommand(ctx context.Context) *cli.Command {
	cfg := &usersCreateConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "create").
		WithSynopsis("create <username> --password <pw> [--role <role>] - create or reset a single login").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *usersCreateConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) != 1 || cfg.Password == "" {
		return fmt.Errorf("%w: usage: shifty users create <username> --password <pw>", cli.ErrUsage)
	}
	username := args[0]

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
		Action:    "users.create",
		Target:    username,
		StartedAt: time.Now().UTC(),
	}

	isNew, createErr := provision.CreateUser(ctx, s.conn, s.target.Dialect, username, cfg.Role, cfg.Password)
	entry.Duration = time.Since(entry.StartedAt)

	if createErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = createErr.Error()
		s.record(ctx, entry)
		return createErr
	}

	entry.Outcome = audit.OutcomeOK
	if isNew {
		entry.Detail = "created"
		fmt.Fprintf(cc.Out, "created login %s\n", username)
	} else {
		entry.Detail = "password and role reset"
		fmt.Fprintf(cc.Out, "reset password and role for %s\n", username)
	}
	s.record(ctx, entry)

	return nil
}
