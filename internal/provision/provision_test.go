package provision_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/require"

	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/provision"
	"github.com/llforeman/shifty/internal/testutil"
)

func TestEmailForName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Montse Vila", "montse.vila@chv.cat"},
		{"accents_stripped", "Montse Vilà", "montse.vila@chv.cat"},
		{"catalan_names", "Àngels Ruiz-Pérez", "angels.ruiz-perez@chv.cat"},
		{"cedilla", "Laia Macià Forçat", "laia.macia.forcat@chv.cat"},
		{"honorific_keeps_double_dot", "Dr. Test User", "dr..test.user@chv.cat"},
		{"surrounding_space_trimmed", "  Nil Bosch ", "nil.bosch@chv.cat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, provision.EmailForName(tt.in, "chv.cat"))
		})
	}
}

func TestSyncUsers(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO pediatrician (name, service_id) VALUES ('Montse Vilà', 1)`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO pediatrician (name, service_id) VALUES ('Oriol Camps', 1)`)
	require.NoError(t, err)

	opts := provision.SyncOptions{InitialPassword: "canvia-me"}
	created, err := provision.SyncUsers(ctx, conn, db.DialectSQLite, opts)
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, "montse.vila@chv.cat", created[0].Email)
	require.Equal(t, "oriol.camps@chv.cat", created[1].Email)

	var role string
	var mustChange bool
	var activeService sql.NullInt64
	err = conn.QueryRowContext(ctx, `SELECT role, must_change_password, active_service_id
		FROM "user" WHERE username = 'montse.vila@chv.cat'`).Scan(&role, &mustChange, &activeService)
	require.NoError(t, err)
	require.Equal(t, "user", role)
	require.True(t, mustChange, "first login must rotate the password")
	require.EqualValues(t, 1, activeService.Int64)

	t.Run("second_run_creates_nothing", func(t *testing.T) {
		again, err := provision.SyncUsers(ctx, conn, db.DialectSQLite, opts)
		require.NoError(t, err)
		require.Empty(t, again)
	})

	t.Run("requires_initial_password", func(t *testing.T) {
		_, err := provision.SyncUsers(ctx, conn, db.DialectSQLite, provision.SyncOptions{})
		require.ErrorContains(t, err, "initial password")
	})
}

func TestSyncUsersEmailCollision(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	// A hand-created account already owns the derived address.
	_, err := conn.ExecContext(ctx, `INSERT INTO "user" (username, email, role)
		VALUES ('anna', 'anna.puig@chv.cat', 'admin')`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `INSERT INTO pediatrician (name) VALUES ('Anna Puig')`)
	require.NoError(t, err)

	created, err := provision.SyncUsers(ctx, conn, db.DialectSQLite, provision.SyncOptions{InitialPassword: "canvia-me"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "anna.puig.1@chv.cat", created[0].Email)
}

func TestCreateUserDefaultsRole(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	isNew, err := provision.CreateUser(ctx, conn, db.DialectSQLite, "becari", "", "clau-inicial")
	require.NoError(t, err)
	require.True(t, isNew)

	var role string
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT role FROM "user" WHERE username = 'becari'`).Scan(&role))
	require.Equal(t, "user", role)
}

func TestCreateAdmin(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	isNew, err := provision.CreateAdmin(ctx, conn, db.DialectSQLite, "montse", "primera-clau")
	require.NoError(t, err)
	require.True(t, isNew)

	var hash, role string
	require.NoError(t, conn.QueryRowContext(ctx,
		`SELECT password_hash, role FROM "user" WHERE username = 'montse'`).Scan(&hash, &role))
	require.Equal(t, "admin", role)
	match, err := argon2id.ComparePasswordAndHash("primera-clau", hash)
	require.NoError(t, err)
	require.True(t, match)

	t.Run("rerun_rotates_password", func(t *testing.T) {
		isNew, err := provision.CreateAdmin(ctx, conn, db.DialectSQLite, "montse", "segona-clau")
		require.NoError(t, err)
		require.False(t, isNew)

		var rotated string
		require.NoError(t, conn.QueryRowContext(ctx,
			`SELECT password_hash FROM "user" WHERE username = 'montse'`).Scan(&rotated))

		match, err := argon2id.ComparePasswordAndHash("primera-clau", rotated)
		require.NoError(t, err)
		require.False(t, match, "old password must stop working")

		match, err = argon2id.ComparePasswordAndHash("segona-clau", rotated)
		require.NoError(t, err)
		require.True(t, match)
	})
}
