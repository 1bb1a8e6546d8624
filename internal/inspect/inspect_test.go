package inspect_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/inspect"
	"github.com/llforeman/shifty/internal/seed"
	"github.com/llforeman/shifty/internal/testutil"
)

func TestShifts(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO pediatrician (name) VALUES ('Dra. Soler'), ('Dr. Camps')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO shift (pediatrician_id, date) VALUES
		(1, '2026-03-13'), (2, '2026-03-14'), (1, '2026-03-15')`)
	require.NoError(t, err)

	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	shifts, err := inspect.Shifts(ctx, conn, db.DialectSQLite, from, 50)
	require.NoError(t, err)
	require.Len(t, shifts, 2)
	require.Equal(t, "Dr. Camps", shifts[0].Pediatrician)
	require.Equal(t, "2026-03-14", shifts[0].Date.Format("2006-01-02"))
	require.Equal(t, "Dra. Soler", shifts[1].Pediatrician)

	t.Run("limit", func(t *testing.T) {
		one, err := inspect.Shifts(ctx, conn, db.DialectSQLite, time.Time{}, 1)
		require.NoError(t, err)
		require.Len(t, one, 1)
		require.Equal(t, "2026-03-13", one[0].Date.Format("2006-01-02"))
	})
}

func TestPediatricians(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO pediatrician (name, type, mir, min_shifts, max_shifts)
		VALUES ('Dra. Soler', 'adjunt', 0, 3, 6), ('Dr. Camps', 'mir', 1, 1, 4)`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO shift (pediatrician_id, date) VALUES
		(1, '2026-03-13'), (1, '2026-03-14')`)
	require.NoError(t, err)

	peds, err := inspect.Pediatricians(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)
	require.Len(t, peds, 2)

	// Name order.
	require.Equal(t, "Dr. Camps", peds[0].Name)
	require.True(t, peds[0].MIR)
	require.Zero(t, peds[0].Shifts)

	require.Equal(t, "Dra. Soler", peds[1].Name)
	require.Equal(t, 2, peds[1].Shifts)
	require.Equal(t, 3, peds[1].MinShifts)
	require.Equal(t, 6, peds[1].MaxShifts)
}

func TestTables(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	_, err := conn.ExecContext(ctx, `INSERT INTO pediatrician (name) VALUES ('Dra. Soler')`)
	require.NoError(t, err)

	counts, err := inspect.Tables(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)

	byName := make(map[string]int64, len(counts))
	for _, c := range counts {
		byName[c.Name] = c.Rows
	}
	require.Contains(t, byName, "chat_message")
	require.EqualValues(t, 1, byName["pediatrician"])
	require.EqualValues(t, 1, byName["service"], "default service seeded by the history")
}

func TestConfig(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ctx := context.Background()

	_, err := seed.Run(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)

	values, err := inspect.Config(ctx, conn, db.DialectSQLite)
	require.NoError(t, err)
	require.Len(t, values, len(seed.Defaults))

	// Key order.
	require.Equal(t, "BALANCE_ALPHA", values[0].Key)
	require.Equal(t, "1.0", values[0].Value)
}
