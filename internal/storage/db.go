package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Sentinel errors returned by the store.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("already exists")
	ErrInvalidReference = errors.New("invalid reference")
)

// %PK% is replaced per dialect. Everything else is accepted by both SQLite and Postgres.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            %PK%,
    email         TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    name          TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
    id          %PK%,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS site_targets (
    id              %PK%,
    name            TEXT   NOT NULL,
    url             TEXT   NOT NULL,
    category_id     BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
    protection_type TEXT   NOT NULL CHECK(protection_type IN ('PROXY', 'DLP', 'THREAT', 'CUSTOM')),
    notes           TEXT   NOT NULL DEFAULT '',
    tags            TEXT   NOT NULL DEFAULT '',
    created_by_id   BIGINT REFERENCES users(id) ON DELETE SET NULL,
    created_at      TEXT   NOT NULL
);

CREATE TABLE IF NOT EXISTS applications (
    id            %PK%,
    name          TEXT    NOT NULL UNIQUE,
    description   TEXT    NOT NULL DEFAULT '',
    category      TEXT    NOT NULL CHECK(category IN ('CLOUD_STORAGE', 'FILE_TRANSFER', 'SOCIAL_MEDIA', 'SAAS', 'OTHER')),
    is_default    BOOLEAN NOT NULL DEFAULT FALSE,
    created_by_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
    created_at    TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS endpoints (
    id             %PK%,
    application_id BIGINT NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
    label          TEXT   NOT NULL,
    url            TEXT   NOT NULL,
    kind           TEXT   NOT NULL CHECK(kind IN ('WEB', 'API', 'FILE')),
    method         TEXT   NOT NULL DEFAULT '',
    notes          TEXT   NOT NULL DEFAULT '',
    created_at     TEXT   NOT NULL
);

CREATE TABLE IF NOT EXISTS probe_history (
    id             %PK%,
    run_id         TEXT             NOT NULL,
    application_id BIGINT           NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
    endpoint_id    BIGINT           NOT NULL REFERENCES endpoints(id) ON DELETE CASCADE,
    status         TEXT             NOT NULL CHECK(status IN ('reachable', 'blocked')),
    http_status    INTEGER,
    latency_ms     DOUBLE PRECISION NOT NULL,
    error          TEXT             NOT NULL DEFAULT '',
    failure        TEXT             NOT NULL DEFAULT '',
    final_url      TEXT             NOT NULL DEFAULT '',
    created_at     TEXT             NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_endpoints_application ON endpoints(application_id);
CREATE INDEX IF NOT EXISTS idx_history_created ON probe_history(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_application ON probe_history(application_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_endpoint ON probe_history(endpoint_id, created_at DESC);
`

// timeLayout is fixed width so text ordering matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DB wraps a SQLite or Postgres database.
type DB struct {
	db     *sql.DB
	driver string
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	return OpenDriver(DriverSQLite, path)
}

// OpenDriver opens a database for the given driver ("sqlite" path or
// "postgres" DSN) and applies the schema.
func OpenDriver(driver, dsn string) (*DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	d := &DB{db: db, driver: driver}
	if err := d.migrate(); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return d, nil
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// One connection: SQLite serialises writers anyway, and ":memory:"
	// databases exist per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}
	return db, nil
}

func openPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

func (d *DB) migrate() error {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.driver == DriverPostgres {
		pk = "BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY"
	}
	ddl := strings.ReplaceAll(schema, "%PK%", pk)
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Driver returns the name of the driver in use.
func (d *DB) Driver() string {
	return d.driver
}

// rebind rewrites ? placeholders to $n for Postgres.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		return multierr.Append(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// classify maps driver constraint errors onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", ErrInvalidReference, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			// Primary code only; fall back to the message.
			msg := se.Error()
			if strings.Contains(msg, "FOREIGN KEY") {
				return fmt.Errorf("%w: %v", ErrInvalidReference, err)
			}
			if strings.Contains(msg, "UNIQUE") {
				return fmt.Errorf("%w: %v", ErrConflict, err)
			}
		}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case "23505":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case "23503":
			return fmt.Errorf("%w: %v", ErrInvalidReference, err)
		}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Fallback for rows written with RFC3339.
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func idPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
