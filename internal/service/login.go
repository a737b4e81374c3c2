package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/passlock/internal/account"
	"github.com/louisbranch/passlock/internal/challenge"
	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/sessiongrant"
)

// LoginChallenge is an issued authentication challenge.
type LoginChallenge struct {
	SessionID   string
	OptionsJSON []byte
	ExpiresAt   time.Time
}

// LoginResult is a completed authentication, with a signed session grant
// when the service holds a signing key.
type LoginResult struct {
	Account      account.Account
	CredentialID string
	Grant        string
}

// BeginPasskeyLogin starts an authentication ceremony. With an email the
// challenge is scoped to that account's credentials; without one any
// resident passkey may answer.
func (s *Service) BeginPasskeyLogin(ctx context.Context, email string) (LoginChallenge, error) {
	accountID := ""
	if strings.TrimSpace(email) != "" {
		normalized, err := account.NormalizeEmail(email)
		if err != nil {
			return LoginChallenge{}, err
		}
		acct, err := s.accounts.GetAccountByEmail(ctx, normalized)
		if err != nil {
			if apperrors.IsCode(err, apperrors.CodeNotFound) {
				return LoginChallenge{}, s.collapse(apperrors.New(apperrors.CodeAccountNotFound, "account not found"))
			}
			return LoginChallenge{}, err
		}
		accountID = acct.ID
	}

	issued, err := s.auth.IssueChallenge(ctx, accountID)
	if err != nil {
		return LoginChallenge{}, err
	}
	return LoginChallenge{SessionID: issued.SessionID, OptionsJSON: issued.OptionsJSON, ExpiresAt: issued.ExpiresAt}, nil
}

// FinishPasskeyLogin verifies the assertion and returns the authenticated
// account.
func (s *Service) FinishPasskeyLogin(ctx context.Context, sessionID string, response []byte) (LoginResult, error) {
	result, err := s.auth.VerifyAssertion(ctx, sessionID, response)
	if err != nil {
		return LoginResult{}, err
	}

	grant, err := s.issueGrant(result.Account.ID, result.CredentialID, sessiongrant.MethodLogin)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session grant: %w", err)
	}
	return LoginResult{Account: result.Account, CredentialID: result.CredentialID, Grant: grant}, nil
}

// BeginReauthentication starts a step-up ceremony for an already
// authenticated account, scoped to its credentials.
func (s *Service) BeginReauthentication(ctx context.Context, accountID string) (LoginChallenge, error) {
	user, err := s.loadUser(ctx, accountID)
	if err != nil {
		return LoginChallenge{}, s.collapse(err)
	}

	optionsJSON, sessionData, err := s.verifier.BeginLogin(user)
	if err != nil {
		return LoginChallenge{}, fmt.Errorf("begin reauthentication ceremony: %w", err)
	}

	sessionID, err := s.idGenerator()
	if err != nil {
		return LoginChallenge{}, fmt.Errorf("generate session id: %w", err)
	}
	expiresAt := s.clock().UTC().Add(s.verifier.Config().CeremonyTTL)
	err = s.challenges.Put(ctx, challenge.Session{
		ID:        sessionID,
		Kind:      challenge.KindReauthentication,
		AccountID: accountID,
		Data:      sessionData,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return LoginChallenge{}, fmt.Errorf("store reauthentication ceremony: %w", err)
	}
	return LoginChallenge{SessionID: sessionID, OptionsJSON: optionsJSON, ExpiresAt: expiresAt}, nil
}

// FinishReauthentication verifies the step-up assertion and returns a
// single-use proof for the sensitive operation that demanded it. The
// assertion must come from a credential of the same account.
func (s *Service) FinishReauthentication(ctx context.Context, sessionID string, response []byte) (string, error) {
	session, err := s.challenges.Take(ctx, sessionID, challenge.KindReauthentication)
	if err != nil {
		return "", s.collapse(err)
	}
	defer func() { _ = s.challenges.Delete(ctx, sessionID) }()

	verified, err := s.verifier.FinishLogin(ctx, s.auth, session.Data, response)
	if err != nil {
		s.recordRollback(ctx, session.AccountID, "", err)
		return "", s.collapse(err)
	}
	if verified.AccountID != session.AccountID {
		return "", s.collapse(apperrors.New(apperrors.CodeCredentialNotFound,
			"credential belongs to a different account"))
	}

	if err := s.credentials.ApplyAssertion(ctx, verified.ExternalID, verified.NewSignCount, s.clock().UTC()); err != nil {
		s.recordRollback(ctx, verified.AccountID, verified.ExternalID, err)
		return "", s.collapse(err)
	}

	proof, err := s.gate.IssueProof(session.AccountID)
	if err != nil {
		return "", fmt.Errorf("issue reauthentication proof: %w", err)
	}
	return proof, nil
}
