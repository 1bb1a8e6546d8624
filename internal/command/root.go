// Package command wires the schema operations into the shifty CLI.
package command

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/user"
	"time"

	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/announce"
	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/config"
	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/event"
	"github.com/llforeman/shifty/internal/lock"
)

const usageText = `shifty - schema operations for the pediatric shift scheduler

Usage:
  shifty status                         database, history and patch state
  shifty migrate up                     apply pending history migrations
  shifty migrate up-to <version>        migrate up to a specific version
  shifty migrate down                   roll back the last migration
  shifty migrate redo                   roll back and re-apply the last migration
  shifty migrate status                 per-migration applied state
  shifty migrate version                current history version
  shifty migrate create <name>          scaffold a new migration file
  shifty patch list                     patches shipped in this build
  shifty patch show <name>              statements, notes and checks of a patch
  shifty patch apply <name>             run a patch, statement by statement
  shifty patch verify <name>            run a patch's checks without applying
  shifty init                           migrate from zero, then seed defaults
  shifty seed                           insert missing scheduler defaults
  shifty users sync --password <pw>     create logins for pediatricians lacking one
  shifty users create <username>        create or reset a single login
  shifty inspect shifts|peds|tables|config
  shifty backup [--no-upload]           dump the database, optionally to S3
  shifty serve                          authenticated ops console
  shifty hash-password                  argon2id hash for console credentials

Examples:
  shifty status
  shifty patch verify chat-recipient
  shifty patch apply chat-recipient
  shifty users sync --password 'canvia-me'
  shifty backup --no-upload

The database comes from --url, $DATABASE_URL, the [database] section of
shifty.toml or the legacy .env, in that order. With nothing set, shifty
opens ./ped_scheduler.db the way the scheduler itself would.`

// Root returns the root command for shifty.
func Root(ctx context.Context) *cli.Command {
	return cli.NewCommand("shifty").
		WithSynopsis("shifty - schema operations for the pediatric shift scheduler").
		WithDescription(usageText).
		WithSubs(
			StatusCommand(ctx),
			MigrateCommand(ctx),
			PatchCommand(ctx),
			InitCommand(ctx),
			SeedCommand(ctx),
			UsersCommand(ctx),
			InspectCommand(ctx),
			BackupCommand(ctx),
			ServeCommand(ctx),
			HashPasswordCommand(),
		)
}

// session is everything a database-touching command needs once its flags
// are parsed.
type session struct {
	cfg    *config.Config
	target db.Target
	conn   *sql.DB
}

func openSession(ctx context.Context, configFile, url string) (*session, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if url == "" {
		url = cfg.Database.URL
	}

	target, err := db.ParseURL(url)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(ctx, target)
	if err != nil {
		return nil, err
	}

	return &session{cfg: cfg, target: target, conn: conn}, nil
}

func (s *session) Close() {
	if err := s.conn.Close(); err != nil {
		log.Printf("failed to close database: %v", err)
	}
}

// locker returns the engine-native lock, stacked under the Redis lease when
// one is configured. Redis being down degrades to the engine lock rather
// than blocking the operator.
func (s *session) locker(ctx context.Context) lock.Locker {
	engine := lock.ForTarget(s.conn, s.target.Dialect)
	if s.cfg.Lock.RedisAddr == "" {
		return engine
	}

	client, err := lock.NewRedisClient(ctx, s.cfg.Lock)
	if err != nil {
		log.Printf("redis lock unavailable, using the engine lock only: %v", err)
		return engine
	}

	ttl := time.Duration(s.cfg.Lock.TTLSeconds) * time.Second
	return lock.Multi{engine, lock.NewRedisLocker(client, "", ttl)}
}

// record writes the run to schema_ops_log and, when NATS is configured,
// announces it on the shared ops stream.
func (s *session) record(ctx context.Context, e audit.Entry) {
	if err := audit.New(s.conn, s.target.Dialect).Record(ctx, e); err != nil {
		log.Printf("failed to record run %s: %v", e.RunID, err)
	}

	if s.cfg.Events.NATSURL == "" {
		return
	}
	ann, err := announce.Dial(ctx, s.cfg.Events)
	if err != nil {
		log.Printf("failed to reach NATS: %v", err)
		return
	}
	defer ann.Close()

	if _, err := ann.Publish(ctx, event.FromEntry(e)); err != nil {
		log.Printf("failed to publish run %s: %v", e.RunID, err)
	}
}

// actor names the operator for the run log: the OS user, same name the old
// hand-run scripts would have left in shell history.
func actor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
