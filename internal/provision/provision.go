// Package provision derives login accounts for roster members.
//
// Every pediatrician gets a user whose email doubles as the username: the
// roster name folded to ascii, lowercased, spaces to dots, at the clinic
// domain. Accounts start with a forced password change, so the initial
// password only has to survive the first login.
package provision

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/alexedwards/argon2id"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/llforeman/shifty/internal/db"
)

// EmailForName folds a roster name to an ascii mailbox. Diacritics are
// stripped, anything still outside ascii is dropped, and spaces become
// dots. Consecutive dots from honorifics ("Dr. Test User") are kept; the
// address book import always produced them and the mailboxes exist.
func EmailForName(name, domain string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	for _, r := range folded {
		if r < 128 {
			b.WriteRune(r)
		}
	}

	local := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(b.String())), " ", ".")
	return local + "@" + domain
}

// Account describes one created login.
type Account struct {
	PediatricianID int64
	Name           string
	Username       string
	Email          string
}

// SyncOptions control a provisioning run.
type SyncOptions struct {
	Domain          string
	Role            string
	InitialPassword string
}

// SyncUsers creates a login for every pediatrician that has none. An email
// already taken gets the pediatrician id as a suffix.
func SyncUsers(ctx context.Context, conn *sql.DB, dialect string, opts SyncOptions) ([]Account, error) {
	if opts.InitialPassword == "" {
		return nil, fmt.Errorf("internal/provision: initial password is required")
	}
	if opts.Domain == "" {
		opts.Domain = "chv.cat"
	}
	if opts.Role == "" {
		opts.Role = "user"
	}

	userTable := db.QuoteIdent(dialect, "user")

	type ped struct {
		id        int64
		name      string
		serviceID sql.NullInt64
	}

	query := fmt.Sprintf(`SELECT p.id, p.name, p.service_id
		FROM pediatrician p
		LEFT JOIN %s u ON u.pediatrician_id = p.id
		WHERE u.id IS NULL
		ORDER BY p.id`, userTable)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("internal/provision: list unprovisioned: %w", err)
	}
	defer rows.Close()

	var missing []ped
	for rows.Next() {
		var p ped
		if err := rows.Scan(&p.id, &p.name, &p.serviceID); err != nil {
			return nil, fmt.Errorf("internal/provision: scan: %w", err)
		}
		missing = append(missing, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("internal/provision: list unprovisioned: %w", err)
	}

	var created []Account
	for _, p := range missing {
		email := EmailForName(p.name, opts.Domain)
		taken, err := emailTaken(ctx, conn, dialect, email)
		if err != nil {
			return created, err
		}
		if taken {
			local, _, _ := strings.Cut(email, "@")
			email = fmt.Sprintf("%s.%d@%s", local, p.id, opts.Domain)
		}

		hash, err := argon2id.CreateHash(opts.InitialPassword, argon2id.DefaultParams)
		if err != nil {
			return created, fmt.Errorf("internal/provision: pw hash failed: %w", err)
		}

		insert := db.Rebind(dialect, fmt.Sprintf(`INSERT INTO %s
			(username, email, password_hash, role, pediatrician_id, active_service_id, must_change_password)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, userTable))
		if _, err := conn.ExecContext(ctx, insert, email, email, hash, opts.Role, p.id, p.serviceID, true); err != nil {
			return created, fmt.Errorf("internal/provision: create user for %s: %w", p.name, err)
		}

		created = append(created, Account{
			PediatricianID: p.id,
			Name:           p.name,
			Username:       email,
			Email:          email,
		})
	}
	return created, nil
}

func emailTaken(ctx context.Context, conn *sql.DB, dialect, email string) (bool, error) {
	userTable := db.QuoteIdent(dialect, "user")
	query := db.Rebind(dialect, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE email = ?`, userTable))

	var n int
	if err := conn.QueryRowContext(ctx, query, email).Scan(&n); err != nil {
		return false, fmt.Errorf("internal/provision: check email %s: %w", email, err)
	}
	return n > 0, nil
}

// CreateUser creates a single login, or resets its password and role if the
// username is already taken. Returns whether the account is new.
func CreateUser(ctx context.Context, conn *sql.DB, dialect, username, role, password string) (bool, error) {
	if username == "" || password == "" {
		return false, fmt.Errorf("internal/provision: username and password are required")
	}
	if role == "" {
		role = "user"
	}

	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		return false, fmt.Errorf("internal/provision: pw hash failed: %w", err)
	}

	userTable := db.QuoteIdent(dialect, "user")

	var id int64
	query := db.Rebind(dialect, fmt.Sprintf(`SELECT id FROM %s WHERE username = ?`, userTable))
	err = conn.QueryRowContext(ctx, query, username).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		insert := db.Rebind(dialect, fmt.Sprintf(`INSERT INTO %s
			(username, password_hash, role, must_change_password)
			VALUES (?, ?, ?, ?)`, userTable))
		if _, err := conn.ExecContext(ctx, insert, username, hash, role, true); err != nil {
			return false, fmt.Errorf("internal/provision: create %s: %w", username, err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("internal/provision: look up %s: %w", username, err)
	}

	update := db.Rebind(dialect, fmt.Sprintf(`UPDATE %s SET password_hash = ?, role = ? WHERE id = ?`, userTable))
	if _, err := conn.ExecContext(ctx, update, hash, role, id); err != nil {
		return false, fmt.Errorf("internal/provision: update %s: %w", username, err)
	}
	return false, nil
}

// CreateAdmin is CreateUser pinned to the admin role. The first production
// login was created exactly this way, by hand, over SSH.
func CreateAdmin(ctx context.Context, conn *sql.DB, dialect, username, password string) (bool, error) {
	return CreateUser(ctx, conn, dialect, username, "admin", password)
}
