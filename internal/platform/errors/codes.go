// Package errors provides structured error handling for authentication flows.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Challenge errors
	CodeChallengeMissing  Code = "CHALLENGE_MISSING"
	CodeChallengeMismatch Code = "CHALLENGE_MISMATCH"
	CodeChallengeExpired  Code = "CHALLENGE_EXPIRED"

	// Credential verification errors
	CodeInvalidAttestation       Code = "INVALID_ATTESTATION"
	CodeSignatureInvalid         Code = "SIGNATURE_INVALID"
	CodeSignCountRollback        Code = "SIGN_COUNT_ROLLBACK"
	CodeCredentialNotFound       Code = "CREDENTIAL_NOT_FOUND"
	CodeCredentialExists         Code = "CREDENTIAL_EXISTS"
	CodeUserVerificationRequired Code = "USER_VERIFICATION_REQUIRED"

	// Generic failure presented in paranoid mode
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"

	// Recovery token errors
	CodeTokenNotFound    Code = "TOKEN_NOT_FOUND"
	CodeTokenExpired     Code = "TOKEN_EXPIRED"
	CodeTokenAlreadyUsed Code = "TOKEN_ALREADY_USED"

	// Account errors
	CodeAccountNotFound     Code = "ACCOUNT_NOT_FOUND"
	CodeAccountEmailEmpty   Code = "ACCOUNT_EMAIL_EMPTY"
	CodeAccountEmailInvalid Code = "ACCOUNT_EMAIL_INVALID"
	CodeEmailTaken          Code = "EMAIL_TAKEN"

	// Reauthentication errors
	CodeReauthenticationRequired Code = "REAUTHENTICATION_REQUIRED"

	// Passkey management errors
	CodeLastPasskey Code = "LAST_PASSKEY"

	// Session grant errors
	CodeSessionGrantInvalid Code = "SESSION_GRANT_INVALID"
	CodeSessionGrantExpired Code = "SESSION_GRANT_EXPIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - malformed or unverifiable input
	case CodeChallengeMismatch,
		CodeInvalidAttestation,
		CodeSignatureInvalid,
		CodeAccountEmailEmpty,
		CodeAccountEmailInvalid:
		return codes.InvalidArgument

	// FailedPrecondition - state does not allow the operation
	case CodeChallengeMissing,
		CodeChallengeExpired,
		CodeSignCountRollback,
		CodeUserVerificationRequired,
		CodeTokenExpired,
		CodeTokenAlreadyUsed,
		CodeReauthenticationRequired,
		CodeLastPasskey:
		return codes.FailedPrecondition

	// NotFound - resource does not exist
	case CodeNotFound,
		CodeCredentialNotFound,
		CodeTokenNotFound,
		CodeAccountNotFound:
		return codes.NotFound

	// AlreadyExists - unique resource constraint
	case CodeCredentialExists,
		CodeEmailTaken:
		return codes.AlreadyExists

	// Unauthenticated - unusable credentials or grants
	case CodeInvalidCredentials,
		CodeSessionGrantInvalid,
		CodeSessionGrantExpired:
		return codes.Unauthenticated

	default:
		return codes.Internal
	}
}
