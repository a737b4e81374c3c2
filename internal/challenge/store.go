// Package challenge stores pending ceremony state between the begin and
// finish halves of a WebAuthn exchange.
package challenge

import (
	"context"
	"time"

	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
)

// Kind describes the ceremony a stored challenge was minted for. Challenges
// are only valid for the ceremony kind they were created under, so a login
// challenge can never satisfy a registration or reauthentication finish.
type Kind string

const (
	KindRegistration     Kind = "registration"
	KindLogin            Kind = "login"
	KindReauthentication Kind = "reauthentication"
	KindRecovery         Kind = "recovery"
)

// ErrNoPendingCeremony indicates no challenge of the requested kind is
// outstanding for the session. A kind mismatch reports the same error: from
// the caller's perspective there is no pending ceremony of that kind.
var ErrNoPendingCeremony = apperrors.New(apperrors.CodeChallengeMissing, "no pending ceremony")

// ErrCeremonyExpired indicates the stored challenge outlived its window.
var ErrCeremonyExpired = apperrors.New(apperrors.CodeChallengeExpired, "ceremony expired")

// Session is one pending ceremony: the serialized relying-party session data
// (which carries the challenge) plus bookkeeping.
type Session struct {
	ID        string
	Kind      Kind
	AccountID string
	Data      []byte
	ExpiresAt time.Time
}

// Store persists pending ceremonies keyed by session ID. A Put under an
// existing ID overwrites the previous ceremony (last write wins - only one
// ceremony per session is ever intended to be outstanding).
type Store interface {
	Put(ctx context.Context, session Session) error
	// Take returns the pending ceremony for the session. Missing, expired,
	// or mismatched-kind sessions fail; the caller must then abort the
	// ceremony rather than proceed.
	Take(ctx context.Context, id string, kind Kind) (Session, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) error
}
