package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upDefaultService, downDefaultService)
}

// upDefaultService seeds the default organization and service and points
// every unassigned row at them. This ran as a one-shot script during the
// multi-tenancy rollout; every statement is a no-op on databases that
// already carry the rows. IDs are interpolated as literals so the same
// statements run on every engine regardless of placeholder style.
func upDefaultService(ctx context.Context, tx *sql.Tx) error {
	var orgs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM organization`).Scan(&orgs); err != nil {
		return fmt.Errorf("count organizations: %w", err)
	}
	if orgs == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO organization (name) VALUES ('Hospital General')`); err != nil {
			return fmt.Errorf("seed organization: %w", err)
		}
	}

	var orgID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM organization ORDER BY id LIMIT 1`).Scan(&orgID); err != nil {
		return fmt.Errorf("resolve organization: %w", err)
	}

	var svcs int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM service`).Scan(&svcs); err != nil {
		return fmt.Errorf("count services: %w", err)
	}
	if svcs == 0 {
		stmt := fmt.Sprintf(`INSERT INTO service (name, organization_id) VALUES ('Pediatría', %d)`, orgID)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("seed service: %w", err)
		}
	}

	var svcID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM service ORDER BY id LIMIT 1`).Scan(&svcID); err != nil {
		return fmt.Errorf("resolve service: %w", err)
	}

	backfills := []string{
		fmt.Sprintf(`UPDATE pediatrician SET service_id = %d WHERE service_id IS NULL`, svcID),
		fmt.Sprintf(`UPDATE %s SET active_service_id = %d WHERE active_service_id IS NULL`, quoteUserTable(), svcID),
		fmt.Sprintf(`UPDATE activity_type SET service_id = %d WHERE service_id IS NULL`, svcID),
		fmt.Sprintf(`UPDATE global_config SET service_id = %d WHERE service_id IS NULL`, svcID),
	}
	for _, stmt := range backfills {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("backfill: %w", err)
		}
	}

	return nil
}

// downDefaultService leaves the seeded rows in place. The backfill cannot
// be reversed once later writes depend on the default service.
func downDefaultService(ctx context.Context, tx *sql.Tx) error {
	return nil
}
