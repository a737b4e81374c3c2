package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/passlock/internal/challenge"
	"github.com/louisbranch/passlock/internal/passkey"
	"github.com/louisbranch/passlock/internal/storage"
)

// RegistrationChallenge is an issued credential creation challenge.
type RegistrationChallenge struct {
	SessionID   string
	OptionsJSON []byte
	ExpiresAt   time.Time
}

// BeginPasskeyRegistration starts a credential creation ceremony for the
// account. Once an account holds a credential, adding another requires a
// fresh reauthentication proof; the very first passkey is exempt so signup
// can complete.
func (s *Service) BeginPasskeyRegistration(ctx context.Context, accountID, proofToken string) (RegistrationChallenge, error) {
	user, err := s.loadUser(ctx, accountID)
	if err != nil {
		return RegistrationChallenge{}, s.collapse(err)
	}

	if len(user.Credentials) > 0 {
		if err := s.gate.VerifyProof(accountID, proofToken); err != nil {
			return RegistrationChallenge{}, err
		}
	}

	optionsJSON, sessionData, err := s.verifier.BeginRegistration(user)
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("begin registration ceremony: %w", err)
	}

	sessionID, err := s.idGenerator()
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("generate session id: %w", err)
	}
	expiresAt := s.clock().UTC().Add(s.verifier.Config().CeremonyTTL)
	err = s.challenges.Put(ctx, challenge.Session{
		ID:        sessionID,
		Kind:      challenge.KindRegistration,
		AccountID: accountID,
		Data:      sessionData,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return RegistrationChallenge{}, fmt.Errorf("store registration ceremony: %w", err)
	}

	return RegistrationChallenge{SessionID: sessionID, OptionsJSON: optionsJSON, ExpiresAt: expiresAt}, nil
}

// FinishPasskeyRegistration verifies the attestation response and persists
// the new credential under the given label.
func (s *Service) FinishPasskeyRegistration(ctx context.Context, sessionID, label string, response []byte) (storage.Credential, error) {
	session, err := s.challenges.Take(ctx, sessionID, challenge.KindRegistration)
	if err != nil {
		return storage.Credential{}, s.collapse(err)
	}
	defer func() { _ = s.challenges.Delete(ctx, sessionID) }()

	user, err := s.loadUser(ctx, session.AccountID)
	if err != nil {
		return storage.Credential{}, s.collapse(err)
	}

	verified, err := s.verifier.FinishRegistration(user, session.Data, response)
	if err != nil {
		return storage.Credential{}, s.collapse(err)
	}

	credential := s.newCredential(session.AccountID, label, verified)
	if err := s.credentials.CreateCredential(ctx, credential); err != nil {
		return storage.Credential{}, err
	}
	return credential, nil
}

func (s *Service) newCredential(accountID, label string, verified passkey.VerifiedCredential) storage.Credential {
	now := s.clock().UTC()
	return storage.Credential{
		ExternalID: verified.ExternalID,
		AccountID:  accountID,
		Label:      strings.TrimSpace(label),
		PublicKey:  verified.PublicKey,
		SignCount:  verified.SignCount,
		Transports: verified.Transports,
		BackedUp:   verified.BackedUp,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
