// watch tails a console's operations feed from a terminal, one line per
// run. It is the counterpart of the browser widget the console serves.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/fatih/color"
	"github.com/scott-cotton/cli"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/event"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.MainContext(ctx, MainCommand(ctx))
}

type Config struct {
	URL      string `cli:"name=url desc='console base URL (default http://localhost:8080)'"`
	User     string `cli:"name=user aliases=u desc='console login (default admin)'"`
	Password string `cli:"name=password aliases=p desc='console password, $CONSOLE_PASSWORD when unset'"`
}

func MainCommand(ctx context.Context) *cli.Command {
	cfg := &Config{}
	sOpts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}

	return cli.NewCommand("watch").
		WithSynopsis("watch [opts]").
		WithDescription("Log in to a shifty console and print schema operation events as they happen.").
		WithOpts(sOpts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return run(ctx, cfg, cc)
		})
}

func run(ctx context.Context, cfg *Config, cc *cli.Context) error {
	baseURL := cfg.URL
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	username := cfg.User
	if username == "" {
		username = "admin"
	}

	password := cfg.Password
	if password == "" {
		password = os.Getenv("CONSOLE_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("%w: --password or $CONSOLE_PASSWORD is required", cli.ErrUsage)
	}

	token, err := login(ctx, baseURL, username, password)
	if err != nil {
		return err
	}

	// ws:// for http://, wss:// for https://.
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/api/events"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	fmt.Fprintf(cc.Out, "watching %s as %s\n", baseURL, username)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed closed: %w", err)
		}

		var ev event.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("could not decode event payload: %v", err)
			continue
		}
		printEvent(cc.Out, ev)
	}
}

// login trades credentials for a bearer token. Console tokens are
// short-lived; a long watch outlives its token, which only matters on
// reconnect.
func login(ctx context.Context, baseURL, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", fmt.Errorf("failed to encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach %s: %w", baseURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed: %s", res.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	return out.Token, nil
}

func printEvent(w io.Writer, ev event.Event) {
	outcome := color.GreenString(ev.Outcome)
	if ev.Outcome != audit.OutcomeOK {
		outcome = color.RedString(ev.Outcome)
	}

	line := fmt.Sprintf("%s %s %s", ev.At.Format(time.RFC3339), outcome, ev.Action)
	if ev.Target != "" {
		line += " " + ev.Target
	}
	line += " (" + ev.Actor + ")"
	if ev.Detail != "" {
		line += " " + ev.Detail
	}
	fmt.Fprintln(w, line)
}
