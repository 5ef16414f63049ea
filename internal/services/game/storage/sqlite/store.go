// Package sqlite implements the engine's persistence interfaces over a
// single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bghira/text-game-engine/internal/platform/storage/sqlitemigrate"
	"github.com/bghira/text-game-engine/internal/services/game/storage"
	"github.com/bghira/text-game-engine/internal/services/game/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// toNullMillis maps optional domain times to sql.NullInt64 for nullable DB columns.
func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

// fromNullMillis maps nullable SQL timestamps back into optional domain time values.
func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// toNullString maps empty strings onto NULL columns.
func toNullString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

// dbtx is the query surface shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store provides a SQLite-backed store implementing all storage interfaces.
// Queries on the store auto-commit; Begin opens a transactional scope bound
// to the same method set.
type Store struct {
	sqlDB *sql.DB
	db    dbtx
}

var _ storage.Store = (*Store)(nil)

// Open opens a SQLite store at the provided path and applies bundled
// migrations. This keeps startup and schema evolution in one place, instead
// of requiring callers to coordinate migrations independently.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{
		sqlDB: sqlDB,
		db:    sqlDB,
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// DB returns the raw database handle for migration tooling and tests.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Close releases the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// UnitOfWork binds the store's query surface to one transaction.
type UnitOfWork struct {
	Store
	tx   *sql.Tx
	done bool
}

var _ storage.UnitOfWork = (*UnitOfWork)(nil)

// Begin opens a transactional scope. Nested scopes are not supported; calling
// Begin on a unit of work fails.
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if _, nested := s.db.(*sql.Tx); nested {
		return nil, fmt.Errorf("nested unit of work is not supported")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unit of work: %w", err)
	}
	uow := &UnitOfWork{Store: *s, tx: tx}
	uow.Store.db = tx
	return uow, nil
}

// Commit commits the scope. The unit of work is invalid afterwards.
func (u *UnitOfWork) Commit() error {
	if u == nil || u.tx == nil || u.done {
		return fmt.Errorf("unit of work is not active")
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("commit unit of work: %w", err)
	}
	return nil
}

// Rollback discards the scope. Rolling back an already-finished scope is a
// no-op so callers can defer it unconditionally.
func (u *UnitOfWork) Rollback() error {
	if u == nil || u.tx == nil || u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Rollback(); err != nil {
		return fmt.Errorf("rollback unit of work: %w", err)
	}
	return nil
}

// isUniqueViolation detects SQLite unique-constraint failures without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "constraint failed: unique")
}
