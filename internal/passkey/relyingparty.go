package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/louisbranch/passlock/internal/account"
	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/storage"
)

// User adapts an account and its registered credentials to the WebAuthn
// user model. The account handle is the opaque user handle authenticators
// store inside resident credentials; it never changes, even when the
// email does.
type User struct {
	Account     account.Account
	Credentials []webauthn.Credential
}

func (u *User) WebAuthnID() []byte {
	return u.Account.Handle
}

func (u *User) WebAuthnName() string {
	return u.Account.Email
}

func (u *User) WebAuthnDisplayName() string {
	return u.Account.Email
}

func (u *User) WebAuthnIcon() string {
	return ""
}

func (u *User) WebAuthnCredentials() []webauthn.Credential {
	return u.Credentials
}

// CredentialLookup resolves an assertion's credential ID to the stored
// credential and the WebAuthn user that owns it.
type CredentialLookup interface {
	FindByCredentialID(ctx context.Context, externalID string) (*User, storage.Credential, error)
}

// VerifiedCredential is the outcome of a successful registration ceremony,
// ready to persist.
type VerifiedCredential struct {
	ExternalID string
	PublicKey  []byte
	SignCount  uint32
	Transports []string
	BackedUp   bool
}

// VerifiedAssertion is the outcome of a successful authentication ceremony.
type VerifiedAssertion struct {
	ExternalID   string
	AccountID    string
	NewSignCount uint32
	UserVerified bool
}

// ceremonyProvider is the slice of the webauthn API the verifier uses.
// Kept as an interface so tests can substitute deterministic ceremonies.
type ceremonyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidateDiscoverableLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

// ceremonyParser parses raw client responses.
type ceremonyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultCeremonyParser struct{}

func (defaultCeremonyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultCeremonyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// RelyingParty verifies WebAuthn ceremonies against the configured origin
// and policy. It is stateless; pending ceremony state travels through the
// opaque session payloads it returns from the Begin calls.
type RelyingParty struct {
	provider ceremonyProvider
	parser   ceremonyParser
	config   Config
}

// NewRelyingParty builds a verifier from the relying-party configuration.
func NewRelyingParty(cfg Config) (*RelyingParty, error) {
	if strings.TrimSpace(cfg.RPID) == "" {
		return nil, fmt.Errorf("relying party id is required")
	}
	web, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &RelyingParty{provider: web, parser: defaultCeremonyParser{}, config: cfg}, nil
}

// Config returns the verification policy the relying party was built with.
func (rp *RelyingParty) Config() Config {
	return rp.config
}

func (rp *RelyingParty) userVerification() protocol.UserVerificationRequirement {
	if rp.config.UserVerificationRequired {
		return protocol.VerificationRequired
	}
	return protocol.VerificationPreferred
}

// BeginRegistration starts a credential creation ceremony. It returns the
// creation options for the client and the opaque session payload to stash
// in the challenge store. Existing credentials are excluded so an
// authenticator cannot register twice.
func (rp *RelyingParty) BeginRegistration(user *User) (optionsJSON, sessionData []byte, err error) {
	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: rp.userVerification(),
		}),
	}
	if len(user.Credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(
			webauthn.Credentials(user.Credentials).CredentialDescriptors()))
	}

	creation, session, err := rp.provider.BeginRegistration(user, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("begin registration: %w", err)
	}
	return marshalCeremony(creation, session)
}

// FinishRegistration verifies the attestation response against the pending
// session and returns the credential to persist.
func (rp *RelyingParty) FinishRegistration(user *User, sessionData, response []byte) (VerifiedCredential, error) {
	parsed, err := rp.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return VerifiedCredential{}, apperrors.Wrap(apperrors.CodeInvalidAttestation,
			"parse attestation response", err)
	}

	session, err := unmarshalSession(sessionData)
	if err != nil {
		return VerifiedCredential{}, err
	}
	if parsed.Response.CollectedClientData.Challenge != session.Challenge {
		return VerifiedCredential{}, ErrChallengeMismatch
	}
	if rp.config.UserVerificationRequired &&
		!parsed.Response.AttestationObject.AuthData.Flags.HasUserVerified() {
		return VerifiedCredential{}, ErrUserVerificationRequired
	}

	credential, err := rp.provider.CreateCredential(user, session, parsed)
	if err != nil {
		return VerifiedCredential{}, apperrors.Wrap(apperrors.CodeInvalidAttestation,
			"verify attestation response", err)
	}

	return VerifiedCredential{
		ExternalID: EncodeCredentialID(credential.ID),
		PublicKey:  credential.PublicKey,
		SignCount:  credential.Authenticator.SignCount,
		Transports: transportStrings(credential.Transport),
		BackedUp:   credential.Flags.BackupState,
	}, nil
}

// BeginLogin starts an assertion ceremony scoped to the user's registered
// credentials. Pass a nil user for a discoverable (usernameless) login.
func (rp *RelyingParty) BeginLogin(user *User) (optionsJSON, sessionData []byte, err error) {
	uv := webauthn.WithUserVerification(rp.userVerification())

	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
	)
	if user == nil {
		assertion, session, err = rp.provider.BeginDiscoverableLogin(uv)
	} else {
		assertion, session, err = rp.provider.BeginLogin(user, uv)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("begin login: %w", err)
	}
	return marshalCeremony(assertion, session)
}

// FinishLogin verifies the assertion response against the pending session.
// The credential is resolved through lookup; the caller persists the new
// sign count through the store's conditional update afterwards.
func (rp *RelyingParty) FinishLogin(ctx context.Context, lookup CredentialLookup, sessionData, response []byte) (VerifiedAssertion, error) {
	parsed, err := rp.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return VerifiedAssertion{}, apperrors.Wrap(apperrors.CodeSignatureInvalid,
			"parse assertion response", err)
	}

	session, err := unmarshalSession(sessionData)
	if err != nil {
		return VerifiedAssertion{}, err
	}
	if parsed.Response.CollectedClientData.Challenge != session.Challenge {
		return VerifiedAssertion{}, ErrChallengeMismatch
	}

	externalID := EncodeCredentialID(parsed.RawID)
	user, stored, err := lookup.FindByCredentialID(ctx, externalID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return VerifiedAssertion{}, ErrCredentialNotFound
		}
		return VerifiedAssertion{}, err
	}

	if rp.config.UserVerificationRequired &&
		!parsed.Response.AuthenticatorData.Flags.HasUserVerified() {
		return VerifiedAssertion{}, ErrUserVerificationRequired
	}

	var validated *webauthn.Credential
	if len(session.UserID) > 0 {
		validated, err = rp.provider.ValidateLogin(user, session, parsed)
	} else {
		handler := func(_, _ []byte) (webauthn.User, error) { return user, nil }
		validated, err = rp.provider.ValidateDiscoverableLogin(handler, session, parsed)
	}
	if err != nil {
		return VerifiedAssertion{}, apperrors.Wrap(apperrors.CodeSignatureInvalid,
			"verify assertion response", err)
	}

	reported := validated.Authenticator.SignCount
	if err := CheckSignCount(stored.SignCount, reported); err != nil {
		return VerifiedAssertion{}, err
	}

	return VerifiedAssertion{
		ExternalID:   externalID,
		AccountID:    stored.AccountID,
		NewSignCount: reported,
		UserVerified: parsed.Response.AuthenticatorData.Flags.HasUserVerified(),
	}, nil
}

// CredentialFromStored rebuilds the WebAuthn credential shape from a stored
// record so it can serve as an allow or exclude list entry.
func CredentialFromStored(record storage.Credential) (webauthn.Credential, error) {
	rawID, err := DecodeCredentialID(record.ExternalID)
	if err != nil {
		return webauthn.Credential{}, err
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(record.Transports))
	for _, t := range record.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:        rawID,
		PublicKey: record.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: record.BackedUp,
			BackupState:    record.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: record.SignCount,
		},
	}, nil
}

// CredentialsFromStored converts stored records, skipping none; a single
// undecodable record fails the whole load since it indicates corruption.
func CredentialsFromStored(records []storage.Credential) ([]webauthn.Credential, error) {
	if len(records) == 0 {
		return nil, nil
	}
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		credential, err := CredentialFromStored(record)
		if err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.ExternalID, err)
		}
		credentials = append(credentials, credential)
	}
	return credentials, nil
}

// EncodeCredentialID renders a raw credential ID in its storable base64url
// form.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCredentialID reverses EncodeCredentialID.
func DecodeCredentialID(externalID string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(externalID)
	if err != nil {
		return nil, fmt.Errorf("decode credential id: %w", err)
	}
	return raw, nil
}

func marshalCeremony(options any, session *webauthn.SessionData) ([]byte, []byte, error) {
	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ceremony options: %w", err)
	}
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ceremony session: %w", err)
	}
	return optionsJSON, sessionJSON, nil
}

func unmarshalSession(sessionData []byte) (webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(sessionData, &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode ceremony session: %w", err)
	}
	if session.Challenge == "" {
		return webauthn.SessionData{}, apperrors.New(apperrors.CodeChallengeMissing,
			"ceremony session has no challenge")
	}
	return session, nil
}

func transportStrings(transports []protocol.AuthenticatorTransport) []string {
	if len(transports) == 0 {
		return nil
	}
	out := make([]string, 0, len(transports))
	for _, t := range transports {
		out = append(out, string(t))
	}
	return out
}
