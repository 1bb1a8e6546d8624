package seed_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/seed"
	"github.com/llforeman/shifty/internal/testutil"
)

func TestRunOnFreshDatabase(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	res, err := seed.Run(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)
	require.Len(t, res.ConfigAdded, len(seed.Defaults))
	require.True(t, res.DemoPediatrician)

	var name string
	var minShifts, maxShifts int
	err = conn.QueryRowContext(ctx,
		`SELECT name, min_shifts, max_shifts FROM pediatrician`).Scan(&name, &minShifts, &maxShifts)
	require.NoError(t, err)
	require.Equal(t, "Dr. Test User", name)
	require.Equal(t, 3, minShifts)
	require.Equal(t, 6, maxShifts)

	var alpha string
	err = conn.QueryRowContext(ctx,
		`SELECT value FROM global_config WHERE key = 'BALANCE_ALPHA'`).Scan(&alpha)
	require.NoError(t, err)
	require.Equal(t, "1.0", alpha)
}

func TestRunIsIdempotent(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	_, err := seed.Run(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)

	res, err := seed.Run(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)
	require.Empty(t, res.ConfigAdded)
	require.False(t, res.DemoPediatrician, "roster is no longer empty")

	var peds int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pediatrician`).Scan(&peds))
	require.Equal(t, 1, peds)
}

func TestRunKeepsTunedValues(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO global_config (key, value) VALUES ('S1', '5')`)
	require.NoError(t, err)

	res, err := seed.Run(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)
	require.Len(t, res.ConfigAdded, len(seed.Defaults)-1)
	require.NotContains(t, res.ConfigAdded, "S1")

	var s1 string
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT value FROM global_config WHERE key = 'S1'`).Scan(&s1))
	require.Equal(t, "5", s1, "operator tuning survives a seed run")
}

func TestRunSkipsDemoWhenRosterFilled(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO pediatrician (name) VALUES ('Dra. Soler')`)
	require.NoError(t, err)

	res, err := seed.Run(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)
	require.False(t, res.DemoPediatrician)
}
