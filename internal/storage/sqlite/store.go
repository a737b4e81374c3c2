// Package sqlite implements auth persistence over SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/passlock/internal/account"
	"github.com/louisbranch/passlock/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/passlock/internal/storage"
	"github.com/louisbranch/passlock/internal/storage/sqlite/migrations"
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

// Store implements auth persistence over SQLite.
//
// A single SQLite file backs accounts, credentials, and recovery requests so
// recovery completion can claim a token and attach a credential under one
// transaction boundary.
type Store struct {
	sqlDB *sql.DB
}

// DB returns the raw database handle for callers that need it.
func (s *Store) DB() *sql.DB {
	if s == nil {
		return nil
	}
	return s.sqlDB
}

// Open opens a SQLite store and applies bundled migrations.
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

	store := &Store{sqlDB: sqlDB}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutAccount persists an account record.
func (s *Store) PutAccount(ctx context.Context, acct account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(acct.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(acct.Email) == "" {
		return fmt.Errorf("account email is required")
	}
	if len(acct.Handle) == 0 {
		return fmt.Errorf("account handle is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO accounts (id, email, handle, created_at, updated_at)
VALUES (?1, ?2, ?3, ?4, ?5)
ON CONFLICT (id) DO UPDATE SET email = ?2, handle = ?3, updated_at = ?5
`, acct.ID, acct.Email, acct.Handle, toMillis(acct.CreatedAt), toMillis(acct.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err, "accounts.email") {
			return storage.ErrDuplicateEmail
		}
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if s == nil || s.sqlDB == nil {
		return account.Account{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return account.Account{}, fmt.Errorf("account id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, handle, created_at, updated_at FROM accounts WHERE id = ?1
`, accountID)
	return scanAccount(row)
}

// GetAccountByEmail fetches an account by its normalized email.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	if s == nil || s.sqlDB == nil {
		return account.Account{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(email) == "" {
		return account.Account{}, fmt.Errorf("email is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, email, handle, created_at, updated_at FROM accounts WHERE email = ?1
`, email)
	return scanAccount(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (account.Account, error) {
	var acct account.Account
	var createdAt, updatedAt int64
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Handle, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return account.Account{}, storage.ErrNotFound
		}
		return account.Account{}, fmt.Errorf("scan account: %w", err)
	}
	acct.CreatedAt = fromMillis(createdAt)
	acct.UpdatedAt = fromMillis(updatedAt)
	return acct, nil
}

// isUniqueViolation detects SQLite unique-constraint failures for a column.
func isUniqueViolation(err error, column string) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "UNIQUE constraint failed") && strings.Contains(message, column)
}
