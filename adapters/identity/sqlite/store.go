// Package sqlite is the SQLite identity store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/ports"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db  *sql.DB
	dsn string
}

// NewStore opens the database at dsn. ":memory:" gives a private in-memory
// database, useful in tests.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if strings.Contains(dsn, ":memory:") {
		// Every connection would see its own empty database
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dsn: dsn}, nil
}

// FileDSN builds a DSN for a database file with foreign keys, a busy timeout
// and WAL journaling set on every connection.
func FileDSN(path string) string {
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
}

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", core.ErrInfrastructureUnavailable, err)
	}
	return nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
// Errors returned by fn are passed through unchanged.
func (s *Store) WithTx(ctx context.Context, fn func(tx ports.IdentityRepos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}

	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(repos{db: tx}); err != nil {
		return err
	}

	return mapErr(tx.Commit())
}

func (s *Store) Users() ports.Users       { return &usersRepo{db: s.db} }
func (s *Store) Wallets() ports.Wallets   { return &walletsRepo{db: s.db} }
func (s *Store) Sessions() ports.Sessions { return &sessionsRepo{db: s.db} }
func (s *Store) Patterns() ports.Patterns { return &patternsRepo{db: s.db} }

// repos scopes the repositories to a transaction
type repos struct {
	db dbtx
}

func (r repos) Users() ports.Users       { return &usersRepo{db: r.db} }
func (r repos) Wallets() ports.Wallets   { return &walletsRepo{db: r.db} }
func (r repos) Sessions() ports.Sessions { return &sessionsRepo{db: r.db} }
func (r repos) Patterns() ports.Patterns { return &patternsRepo{db: r.db} }

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

// mapErr translates driver errors into store errors. Anything other than a
// missing row or a uniqueness violation means the store itself is failing.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ports.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %w", ports.ErrAlreadyExists, err)
	default:
		return fmt.Errorf("%w: %w", core.ErrInfrastructureUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	var serr *moderncsqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// requireAffected turns an update that matched nothing into ErrNotFound
func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func mapNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func mapStringNull(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}
