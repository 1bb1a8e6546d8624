package console_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/llforeman/shifty/internal/config"
	"github.com/llforeman/shifty/internal/console"
	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/event"
	"github.com/llforeman/shifty/internal/testutil"
)

const testPassword = "clau-segura"

func newTestServer(t *testing.T, deps console.Deps) http.Handler {
	t.Helper()

	conn := testutil.MigratedDB(t)

	hash, err := argon2id.CreateHash(testPassword, argon2id.DefaultParams)
	require.NoError(t, err)

	cfg := config.Console{
		JWTSecret:          "test-secret",
		JWTIssuer:          "shifty",
		AdminUser:          "montse",
		AdminPasswordHash:  hash,
		LoginBurst:         50,
		LoginWindowSeconds: 60,
	}

	srv, err := console.New(cfg, conn, db.DialectSQLite, deps)
	require.NoError(t, err)
	return srv.Routes()
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()

	body := bytes.NewBufferString(`{"username": "montse", "password": "` + testPassword + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func authedRequest(t *testing.T, h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, console.Deps{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "ok", resp["status"])
	require.Equal(t, db.DialectSQLite, resp["dialect"])
}

func TestLoginFailuresAreUniform(t *testing.T) {
	h := newTestServer(t, console.Deps{})

	attempt := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	badUser := attempt(`{"username": "nobody", "password": "` + testPassword + `"}`)
	badPassword := attempt(`{"username": "montse", "password": "wrong"}`)

	require.Equal(t, http.StatusUnauthorized, badUser.Code)
	require.Equal(t, http.StatusUnauthorized, badPassword.Code)

	// The response must not reveal which part was wrong.
	require.Equal(t, badUser.Body.String(), badPassword.Body.String())

	t.Run("malformed_body", func(t *testing.T) {
		rec := attempt(`not json`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRequireAuth(t *testing.T) {
	h := newTestServer(t, console.Deps{})

	tests := []struct {
		name     string
		token    string
		wantCode int
	}{
		{"no_token", "", http.StatusUnauthorized},
		{"garbage_token", "not-a-jwt", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code)
		})
	}

	t.Run("valid_token", func(t *testing.T) {
		token := login(t, h)
		rec := authedRequest(t, h, http.MethodGet, "/api/status", token)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Dialect    string          `json:"dialect"`
			Version    int64           `json:"version"`
			Migrations []json.RawMessage `json:"migrations"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Equal(t, db.DialectSQLite, resp.Dialect)
		require.EqualValues(t, 3, resp.Version)
		require.Len(t, resp.Migrations, 3)
	})
}

func TestPatchApplyOverHTTP(t *testing.T) {
	h := newTestServer(t, console.Deps{})
	token := login(t, h)

	rec := authedRequest(t, h, http.MethodPost, "/api/patches/chat-recipient/apply", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var applied struct {
		RunID      string `json:"run_id"`
		Patch      string `json:"patch"`
		Statements []struct {
			Index int    `json:"index"`
			SQL   string `json:"sql"`
		} `json:"statements"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&applied))
	require.NotEmpty(t, applied.RunID)
	require.Equal(t, "chat-recipient", applied.Patch)
	require.Len(t, applied.Statements, 1)

	t.Run("reapply_conflicts", func(t *testing.T) {
		rec := authedRequest(t, h, http.MethodPost, "/api/patches/chat-recipient/apply", token)
		require.Equal(t, http.StatusConflict, rec.Code)

		var failed struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&failed))
		require.Equal(t, "duplicate column", failed.Kind)
		require.Contains(t, failed.Error, "statement 1")
	})

	t.Run("unknown_patch", func(t *testing.T) {
		rec := authedRequest(t, h, http.MethodPost, "/api/patches/does-not-exist/apply", token)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("runs_land_in_ops_log", func(t *testing.T) {
		rec := authedRequest(t, h, http.MethodGet, "/api/ops", token)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Ops []struct {
				Actor   string `json:"actor"`
				Action  string `json:"action"`
				Target  string `json:"target"`
				Outcome string `json:"outcome"`
			} `json:"ops"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		require.Len(t, resp.Ops, 2)

		// Newest first: the failed re-apply, then the successful one.
		require.Equal(t, "failed", resp.Ops[0].Outcome)
		require.Equal(t, "ok", resp.Ops[1].Outcome)
		for _, op := range resp.Ops {
			require.Equal(t, "montse", op.Actor)
			require.Equal(t, "patch.apply", op.Action)
			require.Equal(t, "chat-recipient", op.Target)
		}
	})
}

func TestPatchVerifyOverHTTP(t *testing.T) {
	h := newTestServer(t, console.Deps{})
	token := login(t, h)

	rec := authedRequest(t, h, http.MethodPost, "/api/patches/chat-recipient/verify", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		OK     bool `json:"ok"`
		Checks []struct {
			Check  string `json:"check"`
			OK     bool   `json:"ok"`
			Detail string `json:"detail"`
		} `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.False(t, resp.OK, "patch has not been applied yet")
	require.NotEmpty(t, resp.Checks)
}

func TestPatchListOverHTTP(t *testing.T) {
	h := newTestServer(t, console.Deps{})
	token := login(t, h)

	rec := authedRequest(t, h, http.MethodGet, "/api/patches", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Patches []struct {
			Name      string `json:"name"`
			Table     string `json:"table"`
			Supported bool   `json:"supported"`
		} `json:"patches"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	names := make(map[string]bool)
	for _, p := range resp.Patches {
		names[p.Name] = p.Supported
	}
	require.True(t, names["chat-recipient"], "chat-recipient must be listed and supported on sqlite")
	require.True(t, names["activity-type-rebuild"])
}

func TestSchemaTableOverHTTP(t *testing.T) {
	h := newTestServer(t, console.Deps{})
	token := login(t, h)

	rec := authedRequest(t, h, http.MethodGet, "/api/schema/tables/chat_message", token)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Table   string `json:"table"`
		Columns []struct {
			Name string `json:"name"`
		} `json:"columns"`
		Rendered string `json:"rendered"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "chat_message", resp.Table)

	var names []string
	for _, c := range resp.Columns {
		names = append(names, c.Name)
	}
	require.Equal(t, []string{"id", "sender_id", "body"}, names)
	require.Contains(t, resp.Rendered, "chat_message")

	t.Run("missing_table", func(t *testing.T) {
		rec := authedRequest(t, h, http.MethodGet, "/api/schema/tables/nope", token)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestLoginRateLimit(t *testing.T) {
	conn := testutil.MigratedDB(t)

	hash, err := argon2id.CreateHash(testPassword, argon2id.DefaultParams)
	require.NoError(t, err)

	srv, err := console.New(config.Console{
		JWTSecret:          "test-secret",
		AdminUser:          "montse",
		AdminPasswordHash:  hash,
		LoginBurst:         2,
		LoginWindowSeconds: 60,
	}, conn, db.DialectSQLite, console.Deps{})
	require.NoError(t, err)
	h := srv.Routes()

	attempt := func() int {
		body := bytes.NewBufferString(`{"username": "montse", "password": "wrong"}`)
		req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusUnauthorized, attempt())
	require.Equal(t, http.StatusUnauthorized, attempt())
	require.Equal(t, http.StatusTooManyRequests, attempt())
}

func TestEventFeedOverWebsocket(t *testing.T) {
	hub := event.NewHub()
	h := newTestServer(t, console.Deps{Hub: hub})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(h)
	defer ts.Close()

	token := login(t, h)

	wsURL := "ws" + ts.URL[len("http"):] + "/api/events"
	wsConn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	require.NoError(t, err)
	defer wsConn.Close(websocket.StatusNormalClosure, "done")

	received := make(chan event.Event, 1)
	go func() {
		_, data, err := wsConn.Read(ctx)
		if err != nil {
			return
		}
		var ev event.Event
		if json.Unmarshal(data, &ev) == nil {
			received <- ev
		}
	}()

	// The watcher registers a beat after the dial returns, so publish until
	// the first event lands.
	want := event.Event{RunID: "run-1", Actor: "montse", Action: "patch.apply", Outcome: "ok"}
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-received:
			require.Equal(t, want.RunID, got.RunID)
			require.Equal(t, want.Action, got.Action)
			return
		case <-tick.C:
			hub.Publish(want)
		case <-ctx.Done():
			t.Fatal("no event arrived over the websocket")
		}
	}
}
