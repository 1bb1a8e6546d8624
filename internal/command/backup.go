package command

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/backup"
)

type backupConfig struct {
	*cli.Command
	ctx        context.Context
	ConfigFile string `cli:"name=config aliases=c desc='path to shifty.toml'"`
	URL        string `cli:"name=url desc='database URL, overrides config'"`
	NoUpload   bool   `cli:"name=no-upload desc='keep the dump local even when a bucket is configured'"`
}

// BackupCommand returns the backup command.
func BackupCommand(ctx context.Context) *cli.Command {
	cfg := &backupConfig{ctx: ctx}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "backup").
		WithSynopsis("backup [--no-upload] - dump the database, optionally to S3").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *backupConfig) run(cc *cli.Context, args []string) error {
	if _, err := cfg.Parse(cc, args); err != nil {
		return err
	}

	ctx := cfg.ctx
	s, err := openSession(ctx, cfg.ConfigFile, cfg.URL)
	if err != nil {
		return err
	}
	defer s.Close()

	bcfg := s.cfg.Backup
	if cfg.NoUpload {
		bcfg.Bucket = ""
		bcfg.KeepLocal = true
	}

	// The dump tools take their own consistent snapshot; the lock is for
	// the SQLite file copy, which must not race a patch.
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
		Action:    "backup",
		StartedAt: time.Now().UTC(),
	}

	res, backupErr := backup.Run(ctx, s.target, bcfg)
	entry.Duration = time.Since(entry.StartedAt)

	if backupErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = backupErr.Error()
		s.record(ctx, entry)
		return backupErr
	}

	entry.Outcome = audit.OutcomeOK
	entry.Target = res.Key
	if entry.Target == "" {
		entry.Target = res.File
	}
	entry.Detail = fmt.Sprintf("%d bytes", res.Size)
	s.record(ctx, entry)

	renderBackup(cc.Out, res)
	return nil
}

func renderBackup(w io.Writer, res backup.Result) {
	if res.File != "" {
		fmt.Fprintf(w, "wrote %s (%d bytes)\n", res.File, res.Size)
	}
	if res.Uploaded {
		fmt.Fprintf(w, "uploaded to s3://%s/%s\n", res.Bucket, res.Key)
		if res.File == "" {
			fmt.Fprintln(w, "local copy removed")
		}
	}
}
