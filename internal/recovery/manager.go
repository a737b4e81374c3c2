package recovery

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/louisbranch/passlock/internal/account"
	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
	"github.com/louisbranch/passlock/internal/platform/id"
	"github.com/louisbranch/passlock/internal/storage"
)

// Token redemption failures.
var (
	ErrTokenNotFound = apperrors.New(apperrors.CodeTokenNotFound,
		"recovery token not found")
	ErrTokenExpired = apperrors.New(apperrors.CodeTokenExpired,
		"recovery token expired")
	ErrTokenAlreadyUsed = apperrors.New(apperrors.CodeTokenAlreadyUsed,
		"recovery token already used")
)

// rawTokenBytes sizes the random token handed to the account holder.
const rawTokenBytes = 32

// Notifier delivers the raw recovery token out-of-band, typically by email.
// Delivery failures do not abort the request; the token record already
// exists and the holder can ask again.
type Notifier interface {
	RecoveryRequested(ctx context.Context, acct account.Account, rawToken string, expiresAt time.Time) error
}

// Manager issues, redeems, and completes emergency recovery requests.
//
// Only a keyed digest of each token is persisted. The raw token travels
// once through the notifier and is otherwise never stored, so a database
// leak does not let an attacker redeem outstanding tokens.
type Manager struct {
	store    storage.RecoveryStore
	notifier Notifier
	config   Config

	digestKey   []byte
	clock       func() time.Time
	idGenerator func() (string, error)
	readRandom  io.Reader
}

// NewManager builds a recovery manager. The digest key is derived from the
// configured secret; an empty secret is rejected so tokens can never be
// digested with a predictable key.
func NewManager(cfg Config, store storage.RecoveryStore, notifier Notifier) (*Manager, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, fmt.Errorf("recovery secret is required")
	}
	key, err := deriveDigestKey(cfg.Secret)
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:       store,
		notifier:    notifier,
		config:      cfg,
		digestKey:   key,
		clock:       time.Now,
		idGenerator: id.NewID,
		readRandom:  rand.Reader,
	}, nil
}

func deriveDigestKey(secret string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte("passlock recovery token digest"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive digest key: %w", err)
	}
	return key, nil
}

// Config returns the manager's configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Digest returns the storable keyed digest of a raw token.
func (m *Manager) Digest(rawToken string) string {
	mac := hmac.New(sha256.New, m.digestKey)
	mac.Write([]byte(rawToken))
	return hex.EncodeToString(mac.Sum(nil))
}

// Request opens a recovery window for the account and returns the raw
// token exactly once. The stored record carries only the digest.
func (m *Manager) Request(ctx context.Context, acct account.Account) (string, storage.RecoveryRequest, error) {
	requestID, err := m.idGenerator()
	if err != nil {
		return "", storage.RecoveryRequest{}, fmt.Errorf("generate request id: %w", err)
	}

	raw := make([]byte, rawTokenBytes)
	if _, err := io.ReadFull(m.readRandom, raw); err != nil {
		return "", storage.RecoveryRequest{}, fmt.Errorf("generate recovery token: %w", err)
	}
	rawToken := base64.RawURLEncoding.EncodeToString(raw)

	now := m.clock().UTC()
	request := storage.RecoveryRequest{
		ID:          requestID,
		AccountID:   acct.ID,
		TokenDigest: m.Digest(rawToken),
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.config.Window),
	}
	if err := m.store.PutRecoveryRequest(ctx, request); err != nil {
		return "", storage.RecoveryRequest{}, fmt.Errorf("store recovery request: %w", err)
	}

	if m.notifier != nil {
		if err := m.notifier.RecoveryRequested(ctx, acct, rawToken, request.ExpiresAt); err != nil {
			log.Printf("recovery: notify account %s: %v", acct.ID, err)
		}
	}
	return rawToken, request, nil
}

// Redeem resolves a raw token to its live recovery request. Used and
// expired requests fail with distinct errors; the record itself is left
// untouched until completion claims it.
func (m *Manager) Redeem(ctx context.Context, rawToken string) (storage.RecoveryRequest, error) {
	if strings.TrimSpace(rawToken) == "" {
		return storage.RecoveryRequest{}, ErrTokenNotFound
	}

	request, err := m.store.GetRecoveryRequestByDigest(ctx, m.Digest(rawToken))
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			return storage.RecoveryRequest{}, ErrTokenNotFound
		}
		return storage.RecoveryRequest{}, fmt.Errorf("load recovery request: %w", err)
	}

	if request.UsedAt != nil {
		return storage.RecoveryRequest{}, ErrTokenAlreadyUsed
	}
	if !request.ExpiresAt.After(m.clock().UTC()) {
		return storage.RecoveryRequest{}, ErrTokenExpired
	}
	return request, nil
}

// Complete claims the request and registers the replacement credential in
// one transaction. A concurrent completion of the same request loses with
// ErrTokenAlreadyUsed and registers nothing.
func (m *Manager) Complete(ctx context.Context, requestID string, credential storage.Credential) error {
	err := m.store.CompleteRecovery(ctx, requestID, m.clock().UTC(), credential)
	if err == nil {
		return nil
	}
	if apperrors.IsCode(err, apperrors.CodeTokenAlreadyUsed) {
		return ErrTokenAlreadyUsed
	}
	if apperrors.IsCode(err, apperrors.CodeNotFound) {
		return ErrTokenNotFound
	}
	return fmt.Errorf("complete recovery: %w", err)
}
