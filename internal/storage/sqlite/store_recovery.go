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

// PutRecoveryRequest stores a pending emergency recovery request.
func (s *Store) PutRecoveryRequest(ctx context.Context, request storage.RecoveryRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(request.ID) == "" {
		return fmt.Errorf("recovery request id is required")
	}
	if strings.TrimSpace(request.AccountID) == "" {
		return fmt.Errorf("recovery request account id is required")
	}
	if strings.TrimSpace(request.TokenDigest) == "" {
		return fmt.Errorf("recovery request token digest is required")
	}

	usedAt := sql.NullInt64{}
	if request.UsedAt != nil {
		usedAt = sql.NullInt64{Int64: toMillis(*request.UsedAt), Valid: true}
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO recovery_requests (id, account_id, token_digest, created_at, expires_at, used_at)
VALUES (?1, ?2, ?3, ?4, ?5, ?6)
`,
		request.ID,
		request.AccountID,
		request.TokenDigest,
		toMillis(request.CreatedAt),
		toMillis(request.ExpiresAt),
		usedAt,
	)
	if err != nil {
		return fmt.Errorf("put recovery request: %w", err)
	}
	return nil
}

// GetRecoveryRequestByDigest fetches a recovery request by its token digest.
func (s *Store) GetRecoveryRequestByDigest(ctx context.Context, digest string) (storage.RecoveryRequest, error) {
	if err := ctx.Err(); err != nil {
		return storage.RecoveryRequest{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.RecoveryRequest{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(digest) == "" {
		return storage.RecoveryRequest{}, fmt.Errorf("token digest is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, account_id, token_digest, created_at, expires_at, used_at
FROM recovery_requests WHERE token_digest = ?1
`, digest)

	var request storage.RecoveryRequest
	var createdAt, expiresAt int64
	var usedAt sql.NullInt64
	if err := row.Scan(&request.ID, &request.AccountID, &request.TokenDigest, &createdAt, &expiresAt, &usedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.RecoveryRequest{}, storage.ErrNotFound
		}
		return storage.RecoveryRequest{}, fmt.Errorf("scan recovery request: %w", err)
	}
	request.CreatedAt = fromMillis(createdAt)
	request.ExpiresAt = fromMillis(expiresAt)
	if usedAt.Valid {
		value := fromMillis(usedAt.Int64)
		request.UsedAt = &value
	}
	return request, nil
}

// CompleteRecovery claims the request and attaches the new credential in one
// transaction. The used_at claim is conditional on the column still being
// null, so two concurrent completions of the same token cannot both succeed.
func (s *Store) CompleteRecovery(ctx context.Context, requestID string, usedAt time.Time, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(requestID) == "" {
		return fmt.Errorf("recovery request id is required")
	}
	if err := validateCredential(credential); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin recovery completion: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
UPDATE recovery_requests SET used_at = ?2 WHERE id = ?1 AND used_at IS NULL
`, requestID, toMillis(usedAt))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("claim recovery request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("claim recovery request: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		var exists int
		err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM recovery_requests WHERE id = ?1`, requestID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("claim recovery request: %w", err)
		}
		return storage.ErrRecoveryAlreadyUsed
	}

	if err := insertCredential(ctx, tx, credential); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit recovery completion: %w", err)
	}
	return nil
}
