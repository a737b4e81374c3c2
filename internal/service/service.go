// Package service is the facade over the passkey engine: account signup,
// credential registration, login, reauthentication, emergency recovery,
// and passkey management.
package service

import (
	"context"
	"time"

	"github.com/louisbranch/passlock/internal/account"
	"github.com/louisbranch/passlock/internal/challenge"
	"github.com/louisbranch/passlock/internal/passkey"
	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/platform/id"
	"github.com/louisbranch/passlock/internal/recovery"
	"github.com/louisbranch/passlock/internal/sessiongrant"
	"github.com/louisbranch/passlock/internal/storage"
	"github.com/louisbranch/passlock/internal/strategy"
)

// ErrLastPasskey indicates an attempt to remove the only credential an
// account has left, which would lock the account out entirely.
var ErrLastPasskey = apperrors.New(apperrors.CodeLastPasskey,
	"the last passkey cannot be removed")

// relyingParty is the slice of the WebAuthn verifier the service uses.
type relyingParty interface {
	BeginRegistration(user *passkey.User) (optionsJSON, sessionData []byte, err error)
	FinishRegistration(user *passkey.User, sessionData, response []byte) (passkey.VerifiedCredential, error)
	BeginLogin(user *passkey.User) (optionsJSON, sessionData []byte, err error)
	FinishLogin(ctx context.Context, lookup passkey.CredentialLookup, sessionData, response []byte) (passkey.VerifiedAssertion, error)
	Config() passkey.Config
}

// authenticator runs login ceremonies end to end.
type authenticator interface {
	IssueChallenge(ctx context.Context, accountID string) (strategy.Challenge, error)
	VerifyAssertion(ctx context.Context, sessionID string, response []byte) (strategy.Result, error)
	FindByCredentialID(ctx context.Context, externalID string) (*passkey.User, storage.Credential, error)
}

// recoveryManager handles emergency recovery tokens.
type recoveryManager interface {
	Request(ctx context.Context, acct account.Account) (string, storage.RecoveryRequest, error)
	Redeem(ctx context.Context, rawToken string) (storage.RecoveryRequest, error)
	Complete(ctx context.Context, requestID string, credential storage.Credential) error
	Config() recovery.Config
}

// proofGate guards sensitive operations behind fresh reauthentication.
type proofGate interface {
	IssueProof(accountID string) (string, error)
	VerifyProof(accountID, token string) error
}

// Service wires the engine's pieces together behind one API surface.
type Service struct {
	accounts    storage.AccountStore
	credentials storage.CredentialStore
	challenges  challenge.Store
	verifier    relyingParty
	auth        authenticator
	recovery    recoveryManager
	gate        proofGate
	audit       strategy.AuditRecorder
	grantConfig sessiongrant.Config

	clock       func() time.Time
	idGenerator func() (string, error)
}

// Deps carries the service's collaborators.
type Deps struct {
	Accounts    storage.AccountStore
	Credentials storage.CredentialStore
	Challenges  challenge.Store
	Verifier    *passkey.RelyingParty
	Auth        *strategy.Strategy
	Recovery    *recovery.Manager
	Gate        proofGate

	// Audit receives security-relevant events, such as sign count
	// rollbacks during step-up reauthentication. Optional.
	Audit strategy.AuditRecorder

	// GrantConfig is optional; without a private key the service returns
	// no session grants and callers manage sessions themselves.
	GrantConfig sessiongrant.Config
}

// New builds the service.
func New(deps Deps) *Service {
	return &Service{
		accounts:    deps.Accounts,
		credentials: deps.Credentials,
		challenges:  deps.Challenges,
		verifier:    deps.Verifier,
		auth:        deps.Auth,
		recovery:    deps.Recovery,
		gate:        deps.Gate,
		audit:       deps.Audit,
		grantConfig: deps.GrantConfig,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// paranoid reports whether failure detail should be collapsed.
func (s *Service) paranoid() bool {
	return s.verifier.Config().Paranoid
}

func (s *Service) collapse(err error) error {
	return passkey.CollapseError(err, s.paranoid())
}

// recordRollback audits a sign count rollback. Rollbacks are reported even
// when paranoid mode collapses the error shown to the caller.
func (s *Service) recordRollback(ctx context.Context, accountID, credentialID string, err error) {
	if s.audit == nil || !apperrors.IsCode(err, apperrors.CodeSignCountRollback) {
		return
	}
	s.audit.Record(ctx, strategy.AuditEvent{
		Kind:         strategy.AuditSignCountRollback,
		AccountID:    accountID,
		CredentialID: credentialID,
		At:           s.clock().UTC(),
		Detail:       "step-up assertion reported a stale sign count",
	})
}

// loadUser assembles the WebAuthn user view of an account.
func (s *Service) loadUser(ctx context.Context, accountID string) (*passkey.User, error) {
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

// grantsEnabled reports whether the service can sign session grants.
func (s *Service) grantsEnabled() bool {
	return len(s.grantConfig.PrivateKey) > 0
}

func (s *Service) issueGrant(accountID, credentialID string, method sessiongrant.Method) (string, error) {
	if !s.grantsEnabled() {
		return "", nil
	}
	return sessiongrant.Issue(accountID, credentialID, method, s.grantConfig)
}
