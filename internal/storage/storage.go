// Package storage defines the persistence contracts for accounts, passkey
// credentials, and recovery requests.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/passlock/internal/account"
	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrSignCountRollback indicates a conditional counter update lost to a
// higher or equal stored value. The stored counter is left untouched.
var ErrSignCountRollback = apperrors.New(apperrors.CodeSignCountRollback, "sign count did not advance")

// ErrRecoveryAlreadyUsed indicates a recovery request was claimed by an
// earlier completion.
var ErrRecoveryAlreadyUsed = apperrors.New(apperrors.CodeTokenAlreadyUsed, "recovery request already used")

// ErrDuplicateCredential indicates the credential external ID is already
// registered.
var ErrDuplicateCredential = apperrors.New(apperrors.CodeCredentialExists, "credential already registered")

// ErrDuplicateEmail indicates the email is already attached to an account.
var ErrDuplicateEmail = apperrors.New(apperrors.CodeEmailTaken, "email already in use")

// AccountStore persists account identity records.
type AccountStore interface {
	PutAccount(ctx context.Context, acct account.Account) error
	GetAccount(ctx context.Context, accountID string) (account.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (account.Account, error)
}

// Credential stores one registered WebAuthn credential.
//
// ExternalID is the base64url raw credential ID and is unique across the
// whole system. SignCount only ever advances; ApplyAssertion is the sole
// mutation path for it.
type Credential struct {
	ExternalID string
	AccountID  string
	Label      string
	PublicKey  []byte
	SignCount  uint32
	Transports []string
	BackedUp   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsedAt *time.Time
}

// RecoveryRequest stores one pending emergency passkey registration.
//
// Only the token digest is persisted; the raw token travels out-of-band.
// Requests are kept after use as an audit trail.
type RecoveryRequest struct {
	ID          string
	AccountID   string
	TokenDigest string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	UsedAt      *time.Time
}

// CredentialStore persists WebAuthn credentials.
type CredentialStore interface {
	// CreateCredential inserts a new credential. A duplicate external ID
	// fails with ErrDuplicateCredential.
	CreateCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, externalID string) (Credential, error)
	ListCredentials(ctx context.Context, accountID string) ([]Credential, error)
	// UpdateCredentialLabel renames a credential owned by the account.
	UpdateCredentialLabel(ctx context.Context, accountID, externalID, label string, updatedAt time.Time) error
	// DeleteCredential removes a credential owned by the account.
	DeleteCredential(ctx context.Context, accountID, externalID string) error
	// ApplyAssertion advances the stored sign count and stamps last use.
	// The update is conditional: it succeeds only when signCount is
	// strictly greater than the stored value, or both are zero. A losing
	// update returns ErrSignCountRollback and leaves the row unchanged.
	ApplyAssertion(ctx context.Context, externalID string, signCount uint32, usedAt time.Time) error
}

// RecoveryStore persists emergency recovery requests.
type RecoveryStore interface {
	PutRecoveryRequest(ctx context.Context, request RecoveryRequest) error
	GetRecoveryRequestByDigest(ctx context.Context, digest string) (RecoveryRequest, error)
	// CompleteRecovery claims the request and attaches the new credential
	// in one transaction. The claim is conditional on used_at being null;
	// a second completion returns ErrRecoveryAlreadyUsed and inserts
	// nothing.
	CompleteRecovery(ctx context.Context, requestID string, usedAt time.Time, credential Credential) error
}
