// Package db resolves the scheduler's database URLs and opens connections.
//
// The same database ran on three engines over the project's life: SQLite on
// developer laptops, MySQL on Hostinger and PostgreSQL on Render. ParseURL
// accepts every URL form those deployments wrote into .env, including the
// SQLAlchemy driver-qualified schemes.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
	DialectSQLite   = "sqlite3"
)

// DefaultSQLitePath is where the Flask app kept its development database.
const DefaultSQLitePath = "ped_scheduler.db"

// Target is a resolved database destination.
type Target struct {
	Dialect string
	DSN     string // driver-ready data source name
	Path    string // file path, sqlite only

	// Parsed connection pieces, populated for mysql so external tools
	// (mysqldump) can be invoked without re-parsing the DSN.
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// ParseURL resolves a database URL to a dialect and a driver DSN. An empty
// URL means the development SQLite file, matching the old scripts' fallback.
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{Dialect: DialectSQLite, DSN: DefaultSQLitePath, Path: DefaultSQLitePath}, nil
	}

	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		if isSQLitePath(raw) {
			return Target{Dialect: DialectSQLite, DSN: raw, Path: raw}, nil
		}
		return Target{}, fmt.Errorf("internal/db: unsupported database url %q", raw)
	}

	// SQLAlchemy qualifies the scheme with a driver (mysql+pymysql://).
	// Only the engine part matters here.
	if base, _, ok := strings.Cut(scheme, "+"); ok {
		scheme = base
	}

	switch scheme {
	case "postgres", "postgresql":
		// pgx takes the URL as-is; normalize the legacy postgres:// form
		// the way the old scripts did for SQLAlchemy.
		return Target{Dialect: DialectPostgres, DSN: "postgresql://" + rest}, nil

	case "mysql":
		return parseMySQL(raw)

	case "sqlite", "sqlite3":
		// sqlite:///relative.db has three slashes, sqlite:////abs/path.db
		// four. After cutting the scheme, dropping one leading slash
		// yields the intended path in both cases.
		path := strings.TrimPrefix(rest, "/")
		if path == "" {
			path = DefaultSQLitePath
		}
		return Target{Dialect: DialectSQLite, DSN: path, Path: path}, nil
	}

	return Target{}, fmt.Errorf("internal/db: unsupported database url %q", raw)
}

func parseMySQL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("internal/db: parse mysql url: %w", err)
	}

	host := u.Hostname()
	name := strings.TrimPrefix(u.Path, "/")
	if host == "" || name == "" {
		return Target{}, fmt.Errorf("internal/db: mysql url %q needs host and database", Redact(raw))
	}

	port := u.Port()
	if port == "" {
		port = "3306"
	}

	user := u.User.Username()
	password, _ := u.User.Password()

	q := u.Query()
	if q.Get("parseTime") == "" {
		// DATE and DATETIME columns should scan as time.Time.
		q.Set("parseTime", "true")
	}

	var cred string
	if user != "" {
		cred = user
		if password != "" {
			cred += ":" + password
		}
		cred += "@"
	}

	return Target{
		Dialect:  DialectMySQL,
		DSN:      fmt.Sprintf("%stcp(%s:%s)/%s?%s", cred, host, port, name, q.Encode()),
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		Name:     name,
	}, nil
}

func isSQLitePath(raw string) bool {
	if raw == ":memory:" {
		return true
	}
	for _, ext := range []string{".db", ".sqlite", ".sqlite3"} {
		if strings.HasSuffix(raw, ext) {
			return true
		}
	}
	return false
}

// Open connects to the target and verifies it with a short ping.
func Open(ctx context.Context, t Target) (*sql.DB, error) {
	var driver string
	switch t.Dialect {
	case DialectPostgres:
		driver = "pgx"
	case DialectMySQL:
		driver = "mysql"
	case DialectSQLite:
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("internal/db: unknown dialect %q", t.Dialect)
	}

	conn, err := sql.Open(driver, t.DSN)
	if err != nil {
		return nil, fmt.Errorf("internal/db: open %s: %w", t.Dialect, err)
	}

	if t.Dialect == DialectSQLite {
		// Single writer; more connections would only queue on the file lock.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(5)
		conn.SetMaxIdleConns(2)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("internal/db: ping %s: %w", t.Dialect, err)
	}

	return conn, nil
}

// Redact masks the password in a database URL for status and log output.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); !has {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}

// QuoteIdent quotes an identifier for the dialect. The scheduler's user
// table makes this necessary: "user" is reserved in postgres and mysql
// quotes identifiers with backticks.
func QuoteIdent(dialect, ident string) string {
	if dialect == DialectMySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

// Rebind rewrites ? placeholders to the dialect's form so each query is
// written once instead of once per engine.
func Rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
