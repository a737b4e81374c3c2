package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/passlock/internal/account"
	"github.com/louisbranch/passlock/internal/challenge"
	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/sessiongrant"
	"github.com/louisbranch/passlock/internal/storage"
)

// RecoveryResult is a completed emergency recovery. Grant is set only when
// sign-in after recovery is enabled and the service holds a signing key.
type RecoveryResult struct {
	Account    account.Account
	Credential storage.Credential
	Grant      string
}

// recoverySession binds the pending recovery request to its registration
// ceremony inside the challenge store payload.
type recoverySession struct {
	RequestID string          `json:"request_id"`
	Ceremony  json.RawMessage `json:"ceremony"`
}

// RequestRecovery opens an emergency recovery window for the account
// matching the email. The response is identical whether or not the account
// exists, so the endpoint cannot be used to probe for registered emails;
// the raw token only travels through the notifier.
func (s *Service) RequestRecovery(ctx context.Context, email string) error {
	normalized, err := account.NormalizeEmail(email)
	if err != nil {
		return err
	}

	acct, err := s.accounts.GetAccountByEmail(ctx, normalized)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return nil
		}
		return err
	}

	if _, _, err := s.recovery.Request(ctx, acct); err != nil {
		return fmt.Errorf("open recovery request: %w", err)
	}
	return nil
}

// BeginRecovery redeems a recovery token and starts the registration
// ceremony for the replacement credential.
func (s *Service) BeginRecovery(ctx context.Context, rawToken string) (RegistrationChallenge, error) {
	request, err := s.recovery.Redeem(ctx, rawToken)
	if err != nil {
		return RegistrationChallenge{}, err
	}

	user, err := s.loadUser(ctx, request.AccountID)
	if err != nil {
		return RegistrationChallenge{}, s.collapse(err)
	}

	optionsJSON, sessionData, err := s.verifier.BeginRegistration(user)
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("begin recovery ceremony: %w", err)
	}

	payload, err := json.Marshal(recoverySession{RequestID: request.ID, Ceremony: sessionData})
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("encode recovery ceremony: %w", err)
	}

	sessionID, err := s.idGenerator()
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("generate session id: %w", err)
	}

	// The ceremony may not outlive the recovery window.
	expiresAt := s.clock().UTC().Add(s.verifier.Config().CeremonyTTL)
	if request.ExpiresAt.Before(expiresAt) {
		expiresAt = request.ExpiresAt
	}
	err = s.challenges.Put(ctx, challenge.Session{
		ID:        sessionID,
		Kind:      challenge.KindRecovery,
		AccountID: request.AccountID,
		Data:      payload,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("store recovery ceremony: %w", err)
	}

	return RegistrationChallenge{SessionID: sessionID, OptionsJSON: optionsJSON, ExpiresAt: expiresAt}, nil
}

// FinishRecovery verifies the attestation response and atomically claims
// the recovery request while registering the replacement credential. A
// concurrent completion of the same request loses and registers nothing.
func (s *Service) FinishRecovery(ctx context.Context, sessionID, label string, response []byte) (RecoveryResult, error) {
	session, err := s.challenges.Take(ctx, sessionID, challenge.KindRecovery)
	if err != nil {
		return RecoveryResult{}, s.collapse(err)
	}
	defer func() { _ = s.challenges.Delete(ctx, sessionID) }()

	var pending recoverySession
	if err := json.Unmarshal(session.Data, &pending); err != nil {
		return RecoveryResult{}, fmt.Errorf("decode recovery ceremony: %w", err)
	}

	user, err := s.loadUser(ctx, session.AccountID)
	if err != nil {
		return RecoveryResult{}, s.collapse(err)
	}

	verified, err := s.verifier.FinishRegistration(user, pending.Ceremony, response)
	if err != nil {
		return RecoveryResult{}, s.collapse(err)
	}

	credential := s.newCredential(session.AccountID, label, verified)
	if err := s.recovery.Complete(ctx, pending.RequestID, credential); err != nil {
		return RecoveryResult{}, err
	}

	result := RecoveryResult{Account: user.Account, Credential: credential}
	if s.recovery.Config().SignInAfterRecovery {
		grant, err := s.issueGrant(user.Account.ID, credential.ExternalID, sessiongrant.MethodRecovery)
		if err != nil {
			return RecoveryResult{}, fmt.Errorf("issue session grant: %w", err)
		}
		result.Grant = grant
	}
	return result, nil
}
