package console

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/dberr"
	"github.com/llforeman/shifty/internal/patch"
	"github.com/llforeman/shifty/internal/schema"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.conn.PingContext(ctx); err != nil {
		log.Printf("healthz: database ping failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "dialect": s.dialect})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.checkLogin(req.Username, req.Password) {
		log.Printf("failed login for %q from %s", req.Username, s.limiter.GetClientIP(r))
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := s.makeJWT(req.Username)
	if err != nil {
		log.Printf("failed to sign token: %v", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}

	slog.InfoContext(r.Context(), "operator logged in",
		slog.String("username", req.Username))

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_in": int(tokenTTL.Seconds()),
	})
}

type migrationJSON struct {
	Version int64  `json:"version"`
	Source  string `json:"source"`
	Applied bool   `json:"applied"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	version, err := s.runner.Version(ctx)
	if err != nil {
		log.Printf("failed to read schema version: %v", err)
		writeError(w, http.StatusInternalServerError, "could not read schema version")
		return
	}

	statuses, err := s.runner.Statuses(ctx)
	if err != nil {
		log.Printf("failed to collect migration statuses: %v", err)
		writeError(w, http.StatusInternalServerError, "could not collect migration statuses")
		return
	}

	migs := make([]migrationJSON, 0, len(statuses))
	for _, st := range statuses {
		migs = append(migs, migrationJSON{Version: st.Version, Source: st.Source, Applied: st.Applied})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dialect":    s.dialect,
		"version":    version,
		"migrations": migs,
	})
}

type columnJSON struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
}

type foreignKeyJSON struct {
	Column    string `json:"column"`
	RefTable  string `json:"ref_table"`
	RefColumn string `json:"ref_column"`
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	table := chi.URLParam(r, "table")

	in := schema.NewInspector(s.conn, s.dialect)
	ok, err := in.HasTable(ctx, table)
	if err != nil {
		log.Printf("failed to inspect %s: %v", table, err)
		writeError(w, http.StatusBadRequest, "could not inspect table")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no such table")
		return
	}

	cols, err := in.Columns(ctx, table)
	if err != nil {
		log.Printf("failed to list columns of %s: %v", table, err)
		writeError(w, http.StatusInternalServerError, "could not list columns")
		return
	}
	fks, err := in.ForeignKeys(ctx, table)
	if err != nil {
		log.Printf("failed to list foreign keys of %s: %v", table, err)
		writeError(w, http.StatusInternalServerError, "could not list foreign keys")
		return
	}

	colsJSON := make([]columnJSON, 0, len(cols))
	for _, c := range cols {
		colsJSON = append(colsJSON, columnJSON{Name: c.Name, Type: c.Type, Nullable: c.Nullable, PrimaryKey: c.PrimaryKey})
	}
	fksJSON := make([]foreignKeyJSON, 0, len(fks))
	for _, fk := range fks {
		fksJSON = append(fksJSON, foreignKeyJSON{Column: fk.Column, RefTable: fk.RefTable, RefColumn: fk.RefColumn})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"table":        table,
		"columns":      colsJSON,
		"foreign_keys": fksJSON,
		"rendered":     schema.RenderTable(table, cols),
	})
}

type patchJSON struct {
	Name      string   `json:"name"`
	Table     string   `json:"table"`
	Summary   string   `json:"summary"`
	Engines   []string `json:"engines,omitempty"`
	Supported bool     `json:"supported"`
}

func (s *Server) handlePatchList(w http.ResponseWriter, r *http.Request) {
	patches, err := patch.All()
	if err != nil {
		log.Printf("failed to load patch registry: %v", err)
		writeError(w, http.StatusInternalServerError, "could not load patches")
		return
	}

	out := make([]patchJSON, 0, len(patches))
	for _, p := range patches {
		out = append(out, patchJSON{
			Name:      p.Name,
			Table:     p.Table,
			Summary:   p.Summary,
			Engines:   p.Engines,
			Supported: p.SupportsDialect(s.dialect),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"patches": out})
}

type statementJSON struct {
	Index      int    `json:"index"`
	SQL        string `json:"sql"`
	DurationMS int64  `json:"duration_ms"`
}

func statementsJSON(results []patch.StatementResult) []statementJSON {
	out := make([]statementJSON, 0, len(results))
	for _, res := range results {
		out = append(out, statementJSON{Index: res.Index, SQL: res.SQL, DurationMS: res.Duration.Milliseconds()})
	}
	return out
}

// handlePatchApply runs a patch exactly as the CLI would: take the ops lock,
// execute statement by statement with no transaction, log the run. A failure
// comes back classified so the operator can tell "already applied" from a
// real problem; nothing is rolled back either way.
func (s *Server) handlePatchApply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	p, err := patch.Get(name)
	if err != nil {
		if errors.Is(err, patch.ErrUnknown) {
			writeError(w, http.StatusNotFound, "no such patch")
			return
		}
		log.Printf("failed to load patch %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "could not load patch")
		return
	}
	if !p.SupportsDialect(s.dialect) {
		writeError(w, http.StatusUnprocessableEntity, "patch does not apply to "+s.dialect)
		return
	}

	if err := s.locker.Acquire(ctx); err != nil {
		log.Printf("failed to take the ops lock: %v", err)
		writeError(w, http.StatusServiceUnavailable, "another schema operation holds the lock")
		return
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("failed to release the ops lock: %v", err)
		}
	}()

	entry := audit.Entry{
		RunID:     audit.NewRunID(),
		Actor:     Actor(ctx),
		Action:    "patch.apply",
		Target:    p.Name,
		StartedAt: time.Now().UTC(),
	}

	results, applyErr := patch.Apply(ctx, s.conn, s.dialect, p)
	entry.Duration = time.Since(entry.StartedAt)

	if applyErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = applyErr.Error()
	} else {
		entry.Outcome = audit.OutcomeOK
		entry.Detail = strconv.Itoa(len(results)) + " statements"
	}
	s.record(ctx, entry)

	if applyErr != nil {
		kind := dberr.Classify(applyErr)
		code := http.StatusInternalServerError
		if kind == dberr.DuplicateColumn || kind == dberr.DuplicateTable {
			code = http.StatusConflict
		}
		writeJSON(w, code, map[string]any{
			"run_id":     entry.RunID,
			"error":      applyErr.Error(),
			"kind":       kind.String(),
			"statements": statementsJSON(results),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":     entry.RunID,
		"patch":      p.Name,
		"statements": statementsJSON(results),
	})
}

func (s *Server) handlePatchVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	p, err := patch.Get(name)
	if err != nil {
		if errors.Is(err, patch.ErrUnknown) {
			writeError(w, http.StatusNotFound, "no such patch")
			return
		}
		log.Printf("failed to load patch %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "could not load patch")
		return
	}

	results, err := patch.Verify(ctx, s.conn, s.dialect, p)
	if err != nil {
		log.Printf("failed to verify patch %s: %v", name, err)
		writeError(w, http.StatusInternalServerError, "verification failed to run")
		return
	}

	type checkJSON struct {
		Check  string `json:"check"`
		OK     bool   `json:"ok"`
		Detail string `json:"detail,omitempty"`
	}

	allOK := true
	checks := make([]checkJSON, 0, len(results))
	for _, res := range results {
		if !res.OK {
			allOK = false
		}
		checks = append(checks, checkJSON{Check: res.Check.Describe(), OK: res.OK, Detail: res.Detail})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patch":  p.Name,
		"ok":     allOK,
		"checks": checks,
	})
}

func (s *Server) handleMigrateUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.locker.Acquire(ctx); err != nil {
		log.Printf("failed to take the ops lock: %v", err)
		writeError(w, http.StatusServiceUnavailable, "another schema operation holds the lock")
		return
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("failed to release the ops lock: %v", err)
		}
	}()

	entry := audit.Entry{
		RunID:     audit.NewRunID(),
		Actor:     Actor(ctx),
		Action:    "migrate.up",
		StartedAt: time.Now().UTC(),
	}

	upErr := s.runner.Up(ctx)
	entry.Duration = time.Since(entry.StartedAt)

	version, verErr := s.runner.Version(ctx)
	if verErr != nil {
		log.Printf("failed to read schema version: %v", verErr)
	}
	entry.Target = "version " + strconv.FormatInt(version, 10)

	if upErr != nil {
		entry.Outcome = audit.OutcomeFailed
		entry.Detail = upErr.Error()
		s.record(ctx, entry)
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"run_id": entry.RunID,
			"error":  upErr.Error(),
		})
		return
	}

	entry.Outcome = audit.OutcomeOK
	s.record(ctx, entry)

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  entry.RunID,
		"version": version,
	})
}

func (s *Server) handleOps(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}

	entries, err := s.auditLog.Tail(r.Context(), n)
	if err != nil {
		log.Printf("failed to read the operations log: %v", err)
		writeError(w, http.StatusInternalServerError, "could not read the operations log")
		return
	}

	type opJSON struct {
		RunID      string    `json:"run_id"`
		Actor      string    `json:"actor"`
		Action     string    `json:"action"`
		Target     string    `json:"target,omitempty"`
		Outcome    string    `json:"outcome"`
		Detail     string    `json:"detail,omitempty"`
		StartedAt  time.Time `json:"started_at"`
		DurationMS int64     `json:"duration_ms"`
	}

	out := make([]opJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, opJSON{
			RunID:      e.RunID,
			Actor:      e.Actor,
			Action:     e.Action,
			Target:     e.Target,
			Outcome:    e.Outcome,
			Detail:     e.Detail,
			StartedAt:  e.StartedAt,
			DurationMS: e.Duration.Milliseconds(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"ops": out})
}

// record persists the run and pushes it to live watchers. Persistence
// problems are logged, never surfaced; the operation itself already
// succeeded or failed on its own terms.
func (s *Server) record(ctx context.Context, e audit.Entry) {
	if err := s.auditLog.Record(ctx, e); err != nil {
		log.Printf("failed to record run %s: %v", e.RunID, err)
	}
	s.publish(ctx, e)
}
