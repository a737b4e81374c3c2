package errors

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultLocale is the locale used for user-facing messages.
const DefaultLocale = "en-US"

// userMessages maps codes to the message shown to end users. Codes without an
// entry fall back to the internal message, which is already user-safe.
var userMessages = map[Code]string{
	CodeChallengeMissing:         "no sign-in attempt is pending, request a new challenge",
	CodeChallengeMismatch:        "the credential does not match the pending challenge",
	CodeChallengeExpired:         "the sign-in attempt expired, request a new challenge",
	CodeInvalidAttestation:       "the passkey could not be verified",
	CodeSignatureInvalid:         "the passkey signature is invalid",
	CodeSignCountRollback:        "the passkey was rejected by a security check",
	CodeCredentialNotFound:       "no matching passkey is registered",
	CodeCredentialExists:         "this passkey is already registered",
	CodeUserVerificationRequired: "the authenticator did not verify the user",
	CodeInvalidCredentials:       "invalid credentials",
	CodeTokenNotFound:            "the recovery link is invalid",
	CodeTokenExpired:             "the recovery link expired, request a new one",
	CodeTokenAlreadyUsed:         "the recovery link was already used",
	CodeAccountNotFound:          "no account matches that email",
	CodeReauthenticationRequired: "please verify with your passkey before continuing",
	CodeLastPasskey:              "the last remaining passkey cannot be removed",
	CodeSessionGrantInvalid:      "the session is invalid, sign in again",
	CodeSessionGrantExpired:      "the session expired, sign in again",
}

// HandleError converts domain errors to gRPC status for client responses.
func HandleError(err error, locale string) error {
	if err == nil {
		return nil
	}

	if locale == "" {
		locale = DefaultLocale
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		userMsg, ok := userMessages[appErr.Code]
		if !ok {
			userMsg = appErr.Message
		}
		return appErr.ToGRPCStatus(locale, userMsg)
	}

	return status.Error(codes.Internal, "an unexpected error occurred")
}

// GetCode extracts the error code from any error.
// Returns CodeUnknown if the error is not a domain error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsCode checks if the error has the specified code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// GetMetadata extracts metadata from an error if present.
func GetMetadata(err error) map[string]string {
	var e *Error
	if errors.As(err, &e) {
		return e.Metadata
	}
	return nil
}
