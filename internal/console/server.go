// Package console is the authenticated ops surface: a small JSON API over the
// same operations the CLI runs, plus a live event feed over websocket. It
// exists for the deployments where nobody has shell access to the database
// host and schema work used to happen through the hosting provider's panel.
package console

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/llforeman/shifty/internal/announce"
	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/config"
	"github.com/llforeman/shifty/internal/event"
	"github.com/llforeman/shifty/internal/lock"
	"github.com/llforeman/shifty/internal/migrate"
	"github.com/llforeman/shifty/internal/ratelimit"
)

type Server struct {
	cfg      config.Console
	conn     *sql.DB
	dialect  string
	runner   *migrate.Runner
	hub      *event.Hub
	auditLog *audit.Log
	ann      *announce.Announcer
	locker   lock.Locker
	limiter  *ratelimit.IPRateLimiter
}

// Deps carries the collaborators the handlers share with the CLI. Announcer
// is nil when no NATS URL is configured; Locker defaults to the engine-native
// one for the connected database.
type Deps struct {
	Hub       *event.Hub
	Audit     *audit.Log
	Announcer *announce.Announcer
	Locker    lock.Locker
}

func New(cfg config.Console, conn *sql.DB, dialect string, deps Deps) (*Server, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("internal/console: jwt_secret is not set")
	}

	runner, err := migrate.NewRunner(conn, dialect)
	if err != nil {
		return nil, err
	}

	burst := cfg.LoginBurst
	if burst <= 0 {
		burst = 5
	}
	window := time.Duration(cfg.LoginWindowSeconds) * time.Second
	if window <= 0 {
		window = time.Minute
	}
	limiter := ratelimit.NewIPRateLimiter(burst, window, ratelimit.CleanupOpts{
		TTL:      10 * time.Minute,
		Interval: time.Minute,
	})

	locker := deps.Locker
	if locker == nil {
		locker = lock.ForTarget(conn, dialect)
	}

	hub := deps.Hub
	if hub == nil {
		hub = event.NewHub()
	}

	auditLog := deps.Audit
	if auditLog == nil {
		auditLog = audit.New(conn, dialect)
	}

	return &Server{
		cfg:      cfg,
		conn:     conn,
		dialect:  dialect,
		runner:   runner,
		hub:      hub,
		auditLog: auditLog,
		ann:      deps.Announcer,
		locker:   locker,
		limiter:  limiter,
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodPost, "/auth/login", s.limiter.Middleware(http.HandlerFunc(s.handleLogin)))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/status", s.handleStatus)
		r.Get("/schema/tables/{table}", s.handleTable)
		r.Get("/patches", s.handlePatchList)
		r.Post("/patches/{name}/apply", s.handlePatchApply)
		r.Post("/patches/{name}/verify", s.handlePatchVerify)
		r.Post("/migrate/up", s.handleMigrateUp)
		r.Get("/ops", s.handleOps)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go s.hub.Run(ctx)
	s.relayStream(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("console listening at %s", s.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("internal/console: serve: %w", err)
	case <-ctx.Done():
	}

	log.Printf("shutdown signal received; shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Println(err)
	}

	s.limiter.Cancel()
	return nil
}

// relayStream pipes the shared JetStream feed into the local hub so watchers
// on this instance see runs performed anywhere.
func (s *Server) relayStream(ctx context.Context) {
	if s.ann == nil {
		return
	}

	ch := make(chan event.Event, 64)
	if err := s.ann.Subscribe(ctx, ch); err != nil {
		log.Printf("failed to subscribe to the ops stream: %v", err)
		return
	}

	go func() {
		for {
			select {
			case ev := <-ch:
				s.hub.Publish(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// publish fans an operation event out to watchers. With NATS configured the
// event takes the stream round trip so every instance sees it exactly once;
// without it, straight to the local hub.
func (s *Server) publish(ctx context.Context, e audit.Entry) {
	ev := event.FromEntry(e)
	if s.ann != nil {
		if _, err := s.ann.Publish(ctx, ev); err != nil {
			log.Printf("failed to publish run %s: %v", e.RunID, err)
			s.hub.Publish(ev)
		}
		return
	}
	s.hub.Publish(ev)
}
