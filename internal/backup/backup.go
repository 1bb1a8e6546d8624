// Package backup dumps the database and ships the file to S3.
//
// The nightly job kept a rolling set of dumps under backups/ in the
// bucket. Server engines go through their native dump tools; SQLite is a
// plain file copy. The local file is removed once the upload lands unless
// the operator asks to keep it.
package backup

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/llforeman/shifty/internal/config"
	"github.com/llforeman/shifty/internal/db"
)

// Result describes one completed backup.
type Result struct {
	File     string // local path, empty once removed after upload
	Size     int64
	Bucket   string
	Key      string
	Uploaded bool
}

// Filename returns the backup name for a point in time, matching the
// files already in the bucket.
func Filename(t time.Time, dialect string) string {
	stamp := t.Format("2006-01-02_15-04-05")
	ext := map[string]string{
		db.DialectPostgres: "dump",
		db.DialectMySQL:    "sql",
		db.DialectSQLite:   "db",
	}[dialect]
	return fmt.Sprintf("backup_%s.%s", stamp, ext)
}

// Run dumps the target database into cfg.Dir and, when a bucket is
// configured, uploads it under backups/.
func Run(ctx context.Context, target db.Target, cfg config.Backup) (Result, error) {
	var res Result

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return res, fmt.Errorf("internal/backup: create dir: %w", err)
	}

	file := filepath.Join(cfg.Dir, Filename(time.Now(), target.Dialect))

	var err error
	switch target.Dialect {
	case db.DialectPostgres:
		err = dumpPostgres(ctx, target, file)
	case db.DialectMySQL:
		err = dumpMySQL(ctx, target, file)
	case db.DialectSQLite:
		err = copyFile(target.Path, file)
	default:
		return res, fmt.Errorf("internal/backup: unsupported dialect %q", target.Dialect)
	}
	if err != nil {
		return res, err
	}

	info, err := os.Stat(file)
	if err != nil {
		return res, fmt.Errorf("internal/backup: stat dump: %w", err)
	}
	res.File = file
	res.Size = info.Size()

	if cfg.Bucket == "" {
		return res, nil
	}

	key := "backups/" + filepath.Base(file)
	if err := upload(ctx, cfg, file, key); err != nil {
		return res, err
	}
	res.Bucket = cfg.Bucket
	res.Key = key
	res.Uploaded = true

	if !cfg.KeepLocal {
		if err := os.Remove(file); err != nil {
			log.Printf("failed to remove local dump %s: %v", file, err)
		} else {
			res.File = ""
		}
	}
	return res, nil
}

func dumpPostgres(ctx context.Context, target db.Target, file string) error {
	// Custom format so pg_restore can pick single tables out later.
	cmd := exec.CommandContext(ctx, "pg_dump", "--format=custom", "--file="+file, target.DSN)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("internal/backup: pg_dump: %v: %s", err, out)
	}
	return nil
}

func dumpMySQL(ctx context.Context, target db.Target, file string) error {
	args := []string{
		"--host=" + target.Host,
		"--port=" + target.Port,
		"--user=" + target.User,
		"--single-transaction",
		"--routines",
		target.Name,
	}
	cmd := exec.CommandContext(ctx, "mysqldump", args...)
	// The password travels by env so it never shows up in process lists.
	cmd.Env = append(os.Environ(), "MYSQL_PWD="+target.Password)

	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("internal/backup: create dump file: %w", err)
	}
	defer f.Close()

	var stderr strings.Builder
	cmd.Stdout = f
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("internal/backup: mysqldump: %v: %s", err, stderr.String())
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("internal/backup: open database file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("internal/backup: create copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("internal/backup: copy database file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("internal/backup: close copy: %w", err)
	}
	return nil
}

func upload(ctx context.Context, cfg config.Backup, file, key string) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("internal/backup: aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg)

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("internal/backup: open dump: %w", err)
	}
	defer f.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("internal/backup: upload to s3://%s/%s: %w", cfg.Bucket, key, err)
	}
	return nil
}
