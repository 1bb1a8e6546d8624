package command

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/scott-cotton/cli"
)

type hashPasswordConfig struct {
	*cli.Command
}

// HashPasswordCommand returns the hash-password command. The output goes
// into [console] admin_password_hash; reading from stdin keeps the password
// out of shell history.
func HashPasswordCommand() *cli.Command {
	cfg := &hashPasswordConfig{}
	opts, _ := cli.StructOpts(cfg)
	return cli.NewCommandAt(&cfg.Command, "hash-password").
		WithSynopsis("hash-password - argon2id hash for console credentials, password on stdin").
		WithOpts(opts...).
		WithRun(cfg.run)
}

func (cfg *hashPasswordConfig) run(cc *cli.Context, args []string) error {
	args, err := cfg.Parse(cc, args)
	if err != nil {
		return err
	}

	var password string
	if len(args) == 1 {
		password = args[0]
	} else {
		scanner := bufio.NewScanner(cc.In)
		if !scanner.Scan() {
			return fmt.Errorf("%w: no password on stdin", cli.ErrUsage)
		}
		password = strings.TrimSpace(scanner.Text())
	}
	if password == "" {
		return fmt.Errorf("%w: password must not be empty", cli.ErrUsage)
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("internal/command: pw hash failed: %w", err)
	}

	fmt.Fprintln(cc.Out, hash)
	return nil
}
