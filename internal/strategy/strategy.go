// Package strategy drives the passkey authentication flow from challenge
// issuance through assertion verification to an authenticated account.
package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/passlock/internal/account"
	"github.com/louisbranch/passlock/internal/challenge"
	"github.com/louisbranch/passlock/internal/passkey"
	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/platform/id"
	"github.com/louisbranch/passlock/internal/storage"
)

// State names a point in the authentication flow.
type State string

const (
	StateIdle            State = "idle"
	StateChallengeIssued State = "challenge_issued"
	StateVerifying       State = "verifying"
	StateSucceeded       State = "succeeded"
	StateFailed          State = "failed"
)

// AuditEvent records a security-relevant verification outcome.
type AuditEvent struct {
	Kind         string
	AccountID    string
	CredentialID string
	At           time.Time
	Detail       string
}

// Audit event kinds.
const (
	AuditSignCountRollback = "sign_count_rollback"
	AuditCloneSuspected    = "clone_suspected"
)

// AuditRecorder receives audit events. Recording must not block the flow;
// implementations own their delivery guarantees.
type AuditRecorder interface {
	Record(ctx context.Context, event AuditEvent)
}

// Hooks are optional callbacks invoked at flow milestones.
type Hooks struct {
	// AfterPasskeyAuthentication runs after an assertion fully verifies
	// and the sign count advances, before the result returns.
	AfterPasskeyAuthentication func(ctx context.Context, acct account.Account, credentialID string)
}

// Challenge is an issued authentication challenge for the client.
type Challenge struct {
	SessionID   string
	OptionsJSON []byte
	ExpiresAt   time.Time
}

// Result is a completed authentication.
type Result struct {
	State        State
	Account      account.Account
	CredentialID string
	SignCount    uint32
	UserVerified bool
}

// ceremonyVerifier is the slice of the relying party the strategy uses.
type ceremonyVerifier interface {
	BeginLogin(user *passkey.User) (optionsJSON, sessionData []byte, err error)
	FinishLogin(ctx context.Context, lookup passkey.CredentialLookup, sessionData, response []byte) (passkey.VerifiedAssertion, error)
	Config() passkey.Config
}

// Strategy authenticates accounts with passkey assertions.
//
// A challenge is single-use: verification consumes it whether or not the
// assertion checks out, so a failed attempt has to start over.
type Strategy struct {
	verifier    ceremonyVerifier
	challenges  challenge.Store
	accounts    storage.AccountStore
	credentials storage.CredentialStore
	audit       AuditRecorder
	hooks       Hooks

	clock       func() time.Time
	idGenerator func() (string, error)
}

// New builds an authentication strategy.
func New(verifier *passkey.RelyingParty, challenges challenge.Store, accounts storage.AccountStore, credentials storage.CredentialStore) *Strategy {
	return &Strategy{
		verifier:    verifier,
		challenges:  challenges,
		accounts:    accounts,
		credentials: credentials,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// SetAudit installs an audit recorder.
func (s *Strategy) SetAudit(audit AuditRecorder) {
	s.audit = audit
}

// SetHooks installs flow callbacks.
func (s *Strategy) SetHooks(hooks Hooks) {
	s.hooks = hooks
}

// IssueChallenge starts an authentication ceremony. With an account ID the
// challenge is scoped to that account's credentials; without one it is
// discoverable and any resident passkey may answer.
func (s *Strategy) IssueChallenge(ctx context.Context, accountID string) (Challenge, error) {
	var user *passkey.User
	accountID = strings.TrimSpace(accountID)
	if accountID != "" {
		loaded, err := s.loadUser(ctx, accountID)
		if err != nil {
			return Challenge{}, s.collapse(err)
		}
		user = loaded
	}

	optionsJSON, sessionData, err := s.verifier.BeginLogin(user)
	if err != nil {
		return Challenge{}, fmt.Errorf("begin login ceremony: %w", err)
	}

	sessionID, err := s.idGenerator()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate session id: %w", err)
	}
	expiresAt := s.clock().UTC().Add(s.verifier.Config().CeremonyTTL)
	err = s.challenges.Put(ctx, challenge.Session{
		ID:        sessionID,
		Kind:      challenge.KindLogin,
		AccountID: accountID,
		Data:      sessionData,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return Challenge{}, fmt.Errorf("store login ceremony: %w", err)
	}

	return Challenge{SessionID: sessionID, OptionsJSON: optionsJSON, ExpiresAt: expiresAt}, nil
}

// VerifyAssertion finishes the ceremony for the session. The pending
// challenge is consumed regardless of outcome. On success the stored sign
// count has already advanced through the conditional update; a concurrent
// replay of the same assertion loses there and fails.
func (s *Strategy) VerifyAssertion(ctx context.Context, sessionID string, response []byte) (Result, error) {
	failed := Result{State: StateFailed}

	session, err := s.challenges.Take(ctx, sessionID, challenge.KindLogin)
	if err != nil {
		return failed, s.collapse(err)
	}
	defer func() { _ = s.challenges.Delete(ctx, sessionID) }()

	verified, err := s.verifier.FinishLogin(ctx, s, session.Data, response)
	if err != nil {
		s.recordRejection(ctx, session.AccountID, err)
		return failed, s.collapse(err)
	}

	now := s.clock().UTC()
	if err := s.credentials.ApplyAssertion(ctx, verified.ExternalID, verified.NewSignCount, now); err != nil {
		if apperrors.IsCode(err, apperrors.CodeSignCountRollback) {
			s.record(ctx, AuditEvent{
				Kind:         AuditSignCountRollback,
				AccountID:    verified.AccountID,
				CredentialID: verified.ExternalID,
				At:           now,
				Detail:       fmt.Sprintf("reported sign count %d lost the conditional update", verified.NewSignCount),
			})
		}
		return failed, s.collapse(err)
	}

	acct, err := s.accounts.GetAccount(ctx, verified.AccountID)
	if err != nil {
		return failed, s.collapse(err)
	}

	if s.hooks.AfterPasskeyAuthentication != nil {
		s.hooks.AfterPasskeyAuthentication(ctx, acct, verified.ExternalID)
	}

	return Result{
		State:        StateSucceeded,
		Account:      acct,
		CredentialID: verified.ExternalID,
		SignCount:    verified.NewSignCount,
		UserVerified: verified.UserVerified,
	}, nil
}

// FindByCredentialID implements passkey.CredentialLookup over the stores.
func (s *Strategy) FindByCredentialID(ctx context.Context, externalID string) (*passkey.User, storage.Credential, error) {
	credential, err := s.credentials.GetCredential(ctx, externalID)
	if err != nil {
		return nil, storage.Credential{}, err
	}
	user, err := s.loadUser(ctx, credential.AccountID)
	if err != nil {
		return nil, storage.Credential{}, err
	}
	return user, credential, nil
}

func (s *Strategy) loadUser(ctx context.Context, accountID string) (*passkey.User, error) {
	acct, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return nil, apperrors.New(apperrors.CodeAccountNotFound, "account not found")
		}
		return nil, err
	}
	records, err := s.credentials.ListCredentials(ctx, accountID)
	if err != nil {
		return nil, err
	}
	credentials, err := passkey.CredentialsFromStored(records)
	if err != nil {
		return nil, err
	}
	return &passkey.User{Account: acct, Credentials: credentials}, nil
}

func (s *Strategy) collapse(err error) error {
	return passkey.CollapseError(err, s.verifier.Config().Paranoid)
}

func (s *Strategy) record(ctx context.Context, event AuditEvent) {
	if s.audit != nil {
		s.audit.Record(ctx, event)
	}
}

func (s *Strategy) recordRejection(ctx context.Context, accountID string, err error) {
	if !apperrors.IsCode(err, apperrors.CodeSignCountRollback) {
		return
	}
	s.record(ctx, AuditEvent{
		Kind:      AuditSignCountRollback,
		AccountID: accountID,
		At:        s.clock().UTC(),
		Detail:    "assertion reported a stale sign count",
	})
}
