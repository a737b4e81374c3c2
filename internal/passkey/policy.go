package passkey

import (
	"errors"

	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
)

// Ceremony verification failures. Each maps to a distinct error code so
// callers and audit hooks can tell an expired challenge from a forged one.
var (
	ErrChallengeMismatch = apperrors.New(apperrors.CodeChallengeMismatch,
		"client challenge does not match the pending ceremony")
	ErrInvalidAttestation = apperrors.New(apperrors.CodeInvalidAttestation,
		"attestation response failed verification")
	ErrSignatureInvalid = apperrors.New(apperrors.CodeSignatureInvalid,
		"assertion signature failed verification")
	ErrSignCountRollback = apperrors.New(apperrors.CodeSignCountRollback,
		"assertion sign count did not advance")
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound,
		"credential is not registered")
	ErrUserVerificationRequired = apperrors.New(apperrors.CodeUserVerificationRequired,
		"authenticator did not verify the user")
	ErrInvalidCredentials = apperrors.New(apperrors.CodeInvalidCredentials,
		"invalid credentials")
)

// CheckSignCount decides whether a reported authenticator counter is
// acceptable against the stored one. The counter must strictly advance;
// the only exception is authenticators that never implement a counter and
// report zero forever.
func CheckSignCount(stored, reported uint32) error {
	if stored == 0 && reported == 0 {
		return nil
	}
	if reported > stored {
		return nil
	}
	return ErrSignCountRollback
}

// collapsible lists the failure codes that leak which step of verification
// failed. Internal faults are never collapsed.
var collapsible = map[apperrors.Code]struct{}{
	apperrors.CodeChallengeMissing:         {},
	apperrors.CodeChallengeMismatch:        {},
	apperrors.CodeChallengeExpired:         {},
	apperrors.CodeInvalidAttestation:       {},
	apperrors.CodeSignatureInvalid:         {},
	apperrors.CodeSignCountRollback:        {},
	apperrors.CodeCredentialNotFound:       {},
	apperrors.CodeUserVerificationRequired: {},
	apperrors.CodeAccountNotFound:          {},
	apperrors.CodeInvalidCredentials:       {},
}

// CollapseError rewrites authentication failures into a single generic
// invalid-credentials error when paranoid mode is on. The original error is
// kept as the cause for logging and audit; only the outward code changes.
func CollapseError(err error, paranoid bool) error {
	if err == nil || !paranoid {
		return err
	}

	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return err
	}
	if _, ok := collapsible[appErr.Code]; !ok {
		return err
	}
	return apperrors.Wrap(apperrors.CodeInvalidCredentials, "invalid credentials", err)
}
