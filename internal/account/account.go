// Package account provides the identity records passkeys attach to.
package account

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/platform/id"
)

var (
	// ErrEmptyEmail indicates a missing email address.
	ErrEmptyEmail = apperrors.New(apperrors.CodeAccountEmailEmpty, "email is required")
	// ErrInvalidEmail indicates an email address that does not parse.
	ErrInvalidEmail = apperrors.New(apperrors.CodeAccountEmailInvalid, "email is invalid")
)

// Account represents an identity that owns zero or more passkeys.
//
// Handle is the WebAuthn user handle sent to authenticators; it is stable for
// the life of the account and never derived from the email, so email changes
// do not orphan registered credentials.
type Account struct {
	ID        string
	Email     string
	Handle    []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateInput describes the metadata needed to create an account.
type CreateInput struct {
	Email string
}

// NormalizeEmail lowercases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrEmptyEmail
	}
	parsed, err := mail.ParseAddress(email)
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(parsed.Address), nil
}

// Create builds a durable account identity from validated input.
//
// The service layer treats this as the canonical point where an untrusted
// email becomes a stable identity that credentials and recovery requests
// reference.
func Create(input CreateInput, now func() time.Time, idGenerator func() (string, error)) (Account, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return Account{}, err
	}

	accountID, err := idGenerator()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	handle, err := NewHandle()
	if err != nil {
		return Account{}, err
	}

	createdAt := now().UTC()
	return Account{
		ID:        accountID,
		Email:     email,
		Handle:    handle,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}

// NewHandle generates a random WebAuthn user handle.
func NewHandle() ([]byte, error) {
	handle, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate webauthn handle: %w", err)
	}
	return handle[:], nil
}
