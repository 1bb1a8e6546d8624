package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/llforeman/shifty/internal/audit"
	"github.com/llforeman/shifty/internal/db"
	"github.com/llforeman/shifty/internal/testutil"
)

func TestRecordAndTail(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ops := audit.New(conn, db.DialectSQLite)
	ctx := context.Background()

	runID := audit.NewRunID()
	require.NoError(t, ops.Record(ctx, audit.Entry{
		RunID:    runID,
		Actor:    "montse",
		Action:   "patch apply",
		Target:   "chat-recipient",
		Outcome:  audit.OutcomeOK,
		Duration: 42 * time.Millisecond,
	}))
	require.NoError(t, ops.Record(ctx, audit.Entry{
		RunID:   runID,
		Actor:   "montse",
		Action:  "patch apply",
		Target:  "chat-recipient",
		Outcome: audit.OutcomeFailed,
		Detail:  "duplicate column: recipient_id",
	}))

	entries, err := ops.Tail(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	require.Equal(t, audit.OutcomeFailed, entries[0].Outcome)
	require.Equal(t, "duplicate column: recipient_id", entries[0].Detail)
	require.Equal(t, audit.OutcomeOK, entries[1].Outcome)
	require.Equal(t, runID, entries[1].RunID)
	require.Equal(t, 42*time.Millisecond, entries[1].Duration)
	require.False(t, entries[1].StartedAt.IsZero())
}

func TestTailLimit(t *testing.T) {
	conn := testutil.MigratedDB(t)
	ops := audit.New(conn, db.DialectSQLite)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, ops.Record(ctx, audit.Entry{
			RunID:   audit.NewRunID(),
			Actor:   "cron",
			Action:  "backup",
			Outcome: audit.OutcomeOK,
		}))
	}

	entries, err := ops.Tail(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestRecordToleratesMissingTable(t *testing.T) {
	// A database that predates the baseline migration has no
	// schema_ops_log; recording must not fail the operation.
	conn := testutil.SQLiteDB(t)
	ops := audit.New(conn, db.DialectSQLite)

	err := ops.Record(context.Background(), audit.Entry{
		RunID:   audit.NewRunID(),
		Actor:   "montse",
		Action:  "status",
		Outcome: audit.OutcomeOK,
	})
	require.NoError(t, err)
}
