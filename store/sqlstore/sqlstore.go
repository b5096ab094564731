/*
Package sqlstore provides a database/sql implementation of the finance and
notify stores, for SQLite (dev, tests) and PostgreSQL (production).

INTERFACES IMPLEMENTED:
  finance.Store: contracts, payments, rate configurations
  notify.Store:  notifications, notification policies, scan runs, ping

DIALECTS:
  One set of queries, written with ? placeholders. For PostgreSQL they are
  rebound to $1..$n before execution. Upserts use ON CONFLICT ... DO UPDATE,
  which both engines understand.

STORAGE FORMATS:
  - money:      TEXT, decimal string (never float)
  - dates:      TEXT, 2006-01-02 (sorts lexically)
  - timestamps: TEXT, fixed-width UTC with nanoseconds (sorts lexically)
  - booleans:   INTEGER 0/1
  - metadata:   TEXT, JSON object

ERRORS:
  - unique violations     -> generic.ErrDuplicate
  - connection failures   -> generic.ErrStoreUnavailable
  - missing rows          -> generic.NotFoundError

SQLITE NOTES:
  The pool is limited to one connection: ":memory:" databases are per
  connection, and SQLite allows a single writer anyway. Every query must
  therefore close its rows before the next statement runs.

USAGE:
  store, err := sqlstore.Open(ctx, "sqlite3", "./data/rent.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  if err := store.Migrate(ctx); err != nil {
      log.Fatal(err)
  }

SEE ALSO:
  - schema.go: tables and indexes
  - store/memory: in-memory implementation for tests
*/
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/rent-engine/finance"
	"github.com/warp/rent-engine/generic"
	"github.com/warp/rent-engine/notify"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	timestampLayout = "2006-01-02T15:04:05.000000000Z"
)

// Store implements finance.Store and notify.Store on a *sql.DB.
type Store struct {
	db       *sql.DB
	postgres bool
}

var (
	_ finance.Store = (*Store)(nil)
	_ notify.Store  = (*Store)(nil)
)

// Open connects to the database and checks it is reachable.
// driver is DriverSQLite or DriverPostgres.
func Open(ctx context.Context, driverName, dsn string) (*Store, error) {
	switch driverName {
	case DriverSQLite:
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
		}
	case DriverPostgres:
	default:
		return nil, generic.NewInvalidInput("driver", fmt.Sprintf("unsupported database driver %q", driverName))
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driverName == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	s := &Store{db: db, postgres: driverName == DriverPostgres}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", generic.ErrStoreUnavailable, err)
	}
	return nil
}

// Migrate creates the schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.wrap("migrate", err)
		}
	}
	return nil
}

// resetOrder lists tables children first so foreign keys hold.
var resetOrder = []string{"notifications", "scan_runs", "notification_policies", "payments", "rate_configs", "contracts"}

// Reset deletes every row. Demo scenarios only.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("reset", err)
	}
	defer tx.Rollback()
	for _, table := range resetOrder {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return s.wrap("reset "+table, err)
		}
	}
	return s.wrap("reset", tx.Commit())
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, db execer, op, query string, args ...any) (sql.Result, error) {
	res, err := db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.wrap(op, err)
	}
	return res, nil
}

// pageClause renders LIMIT/OFFSET for the dialect.
func (s *Store) pageClause(p generic.Page) (string, []any) {
	switch {
	case p.Limit > 0:
		return " LIMIT ? OFFSET ?", []any{p.Limit, p.Offset}
	case p.Offset > 0 && s.postgres:
		return " OFFSET ?", []any{p.Offset}
	case p.Offset > 0:
		return " LIMIT -1 OFFSET ?", []any{p.Offset}
	}
	return "", nil
}

// where accumulates AND-ed conditions.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) in(column string, values []string) {
	if len(values) == 0 {
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	w.clauses = append(w.clauses, column+" IN ("+marks+")")
	for _, v := range values {
		w.args = append(w.args, v)
	}
}

func (w *where) notIn(column string, values []string) {
	if len(values) == 0 {
		return
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	w.clauses = append(w.clauses, column+" NOT IN ("+marks+")")
	for _, v := range values {
		w.args = append(w.args, v)
	}
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (s *Store) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, generic.ErrDuplicate)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %v", op, generic.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		// 08: connection exception, 57P: operator intervention (shutdown)
		return pe.Code.Class() == "08" || pe.Code.Class() == "57"
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrCantOpen || se.Code == sqlite3.ErrIoErr || se.Code == sqlite3.ErrNotADB
	}
	return strings.Contains(err.Error(), "database is closed")
}

// =============================================================================
// VALUE CONVERSION
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
