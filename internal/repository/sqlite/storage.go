package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/nkiryanov/chatr/internal/repository"
)

//go:embed schema.sql
var schema string

// querier is satisfied by *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB owns the sqlite handle. Close it when done.
type DB struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the database file and applies the schema.
// Writers are serialized: one connection, immediate transactions.
func Open(ctx context.Context, path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := "file:" + filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlDB.ExecContext(ctx, schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &DB{sqlDB: sqlDB}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sqlDB == nil {
		return nil
	}
	return d.sqlDB.Close()
}

func (d *DB) Storage() *Storage {
	return &Storage{db: d.sqlDB, q: d.sqlDB}
}

type Storage struct {
	db *sql.DB
	q  querier
	tx bool
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{q: s.q}
}

func (s *Storage) Verification() repository.VerificationTokenRepo {
	return &VerificationTokenRepo{q: s.q}
}

func (s *Storage) Revoked() repository.RevokedTokenRepo {
	return &RevokedTokenRepo{q: s.q}
}

// InTx runs fn in a transaction. A nested call joins the outer transaction.
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			if cErr := tx.Commit(); cErr != nil {
				err = fmt.Errorf("db commit error: %w", cErr)
			}
		default:
			_ = tx.Rollback()
		}
	}()

	err = fn(&Storage{db: s.db, q: tx, tx: true})

	return err
}

// Times are stored as unix microseconds, same precision as postgres timestamptz
func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func toNullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func fromNullMicros(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMicros(v.Int64)
	return &t
}

// uniqueViolation reports the violated unique constraint target as sqlite describes it,
// e.g. "users.username" or "index 'users_email_lower_key'"
func uniqueViolation(err error) (string, bool) {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return sqliteErr.Error(), true
	}
	return "", false
}
