package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/passlock/internal/storage"
)

// CreateCredential inserts a new WebAuthn credential.
func (s *Store) CreateCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateCredential(credential); err != nil {
		return err
	}

	return insertCredential(ctx, s.sqlDB, credential)
}

type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCredential(ctx context.Context, db execContexter, credential storage.Credential) error {
	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO passkeys (external_id, account_id, label, public_key, sign_count, transports, backed_up, created_at, updated_at, last_used_at)
VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10)
`,
		credential.ExternalID,
		credential.AccountID,
		credential.Label,
		credential.PublicKey,
		int64(credential.SignCount),
		strings.Join(credential.Transports, ","),
		boolToInt(credential.BackedUp),
		toMillis(credential.CreatedAt),
		toMillis(credential.UpdatedAt),
		lastUsed,
	)
	if err != nil {
		if isUniqueViolation(err, "passkeys.external_id") {
			return storage.ErrDuplicateCredential
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func validateCredential(credential storage.Credential) error {
	if strings.TrimSpace(credential.ExternalID) == "" {
		return fmt.Errorf("credential external id is required")
	}
	if strings.TrimSpace(credential.AccountID) == "" {
		return fmt.Errorf("credential account id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("credential public key is required")
	}
	return nil
}

// GetCredential fetches a stored credential by external ID.
func (s *Store) GetCredential(ctx context.Context, externalID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(externalID) == "" {
		return storage.Credential{}, fmt.Errorf("credential external id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT external_id, account_id, label, public_key, sign_count, transports, backed_up, created_at, updated_at, last_used_at
FROM passkeys WHERE external_id = ?1
`, externalID)
	return scanCredential(row)
}

// ListCredentials returns the credentials owned by an account, oldest first.
func (s *Store) ListCredentials(ctx context.Context, accountID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("account id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT external_id, account_id, label, public_key, sign_count, transports, backed_up, created_at, updated_at, last_used_at
FROM passkeys WHERE account_id = ?1 ORDER BY created_at ASC
`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var credentials []storage.Credential
	for rows.Next() {
		credential, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialLabel renames a credential owned by the account.
func (s *Store) UpdateCredentialLabel(ctx context.Context, accountID, externalID, label string, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(externalID) == "" {
		return fmt.Errorf("account id and credential external id are required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE passkeys SET label = ?3, updated_at = ?4
WHERE external_id = ?1 AND account_id = ?2
`, externalID, accountID, label, toMillis(updatedAt))
	if err != nil {
		return fmt.Errorf("update credential label: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential label: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteCredential removes a credential owned by the account.
func (s *Store) DeleteCredential(ctx context.Context, accountID, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(externalID) == "" {
		return fmt.Errorf("account id and credential external id are required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM passkeys WHERE external_id = ?1 AND account_id = ?2
`, externalID, accountID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ApplyAssertion advances the sign count and stamps last use in one
// conditional update. The WHERE clause is the serialization point for
// concurrent assertions with the same credential: only the attempt carrying a
// strictly higher counter (or zero against zero) can win.
func (s *Store) ApplyAssertion(ctx context.Context, externalID string, signCount uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(externalID) == "" {
		return fmt.Errorf("credential external id is required")
	}

	stamp := toMillis(usedAt)
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE passkeys SET sign_count = ?2, last_used_at = ?3, updated_at = ?3
WHERE external_id = ?1 AND (sign_count < ?2 OR (sign_count = 0 AND ?2 = 0))
`, externalID, int64(signCount), stamp)
	if err != nil {
		return fmt.Errorf("apply assertion: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply assertion: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Zero rows: either the credential is gone or the counter lost.
	var exists int
	err = s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM passkeys WHERE external_id = ?1`, externalID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("apply assertion: %w", err)
	}
	return storage.ErrSignCountRollback
}

func scanCredential(row rowScanner) (storage.Credential, error) {
	var credential storage.Credential
	var signCount int64
	var transports string
	var backedUp int64
	var createdAt, updatedAt int64
	var lastUsed sql.NullInt64
	if err := row.Scan(
		&credential.ExternalID,
		&credential.AccountID,
		&credential.Label,
		&credential.PublicKey,
		&signCount,
		&transports,
		&backedUp,
		&createdAt,
		&updatedAt,
		&lastUsed,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("scan credential: %w", err)
	}
	credential.SignCount = uint32(signCount)
	if transports != "" {
		credential.Transports = strings.Split(transports, ",")
	}
	credential.BackedUp = backedUp != 0
	credential.CreatedAt = fromMillis(createdAt)
	credential.UpdatedAt = fromMillis(updatedAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	return credential, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
