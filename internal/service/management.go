package service

import (
	"context"

	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/storage"
)

// ListPasskeys returns the account's registered credentials in creation
// order.
func (s *Service) ListPasskeys(ctx context.Context, accountID string) ([]storage.Credential, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.credentials.ListCredentials(ctx, accountID)
}

// RenamePasskey updates the credential's label. Renaming is not sensitive
// and needs no reauthentication proof.
func (s *Service) RenamePasskey(ctx context.Context, accountID, externalID, label string) error {
	return s.credentials.UpdateCredentialLabel(ctx, accountID, externalID, label, s.clock().UTC())
}

// DeletePasskey removes a credential. The operation requires a fresh
// reauthentication proof and refuses to delete the last credential, which
// would strand the account behind recovery.
func (s *Service) DeletePasskey(ctx context.Context, accountID, externalID, proofToken string) error {
	if err := s.gate.VerifyProof(accountID, proofToken); err != nil {
		return err
	}

	credentials, err := s.credentials.ListCredentials(ctx, accountID)
	if err != nil {
		return err
	}
	owned := false
	for _, credential := range credentials {
		if credential.ExternalID == externalID {
			owned = true
			break
		}
	}
	if !owned {
		return apperrors.New(apperrors.CodeCredentialNotFound, "credential is not registered")
	}
	if len(credentials) <= 1 {
		return ErrLastPasskey
	}

	return s.credentials.DeleteCredential(ctx, accountID, externalID)
}
