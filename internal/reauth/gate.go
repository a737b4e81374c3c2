// Package reauth issues short-lived proofs that an account recently
// completed a fresh passkey ceremony, gating sensitive operations such as
// adding or deleting credentials.
package reauth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	apperrors "github.com/louisbranch/passlock/internal/platform/errors"
)

// ErrProofRequired indicates a sensitive operation was attempted without a
// valid, unexpired reauthentication proof.
var ErrProofRequired = apperrors.New(apperrors.CodeReauthenticationRequired,
	"recent reauthentication is required")

// proofBytes sizes the random proof token.
const proofBytes = 32

type proof struct {
	token     string
	expiresAt time.Time
}

// Gate tracks one live proof per account. A proof is consumed by its first
// verification attempt, successful or not, so a leaked token cannot be
// retried and a used one cannot authorize a second operation.
type Gate struct {
	mu     sync.Mutex
	proofs map[string]proof

	ttl        time.Duration
	clock      func() time.Time
	readRandom io.Reader
}

// NewGate builds a proof gate. Proofs expire after ttl.
func NewGate(ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Gate{
		proofs:     make(map[string]proof),
		ttl:        ttl,
		clock:      time.Now,
		readRandom: rand.Reader,
	}
}

// IssueProof mints a fresh proof for the account, replacing any live one.
func (g *Gate) IssueProof(accountID string) (string, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", fmt.Errorf("account id is required")
	}

	raw := make([]byte, proofBytes)
	if _, err := io.ReadFull(g.readRandom, raw); err != nil {
		return "", fmt.Errorf("generate reauthentication proof: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.proofs[accountID] = proof{
		token:     token,
		expiresAt: g.clock().UTC().Add(g.ttl),
	}
	return token, nil
}

// VerifyProof checks the presented token against the account's live proof.
// The proof is deleted before the comparison result is known, so every
// token verifies at most once. All failures collapse to ErrProofRequired.
func (g *Gate) VerifyProof(accountID, token string) error {
	g.mu.Lock()
	stored, ok := g.proofs[accountID]
	delete(g.proofs, accountID)
	g.mu.Unlock()

	if !ok || token == "" {
		return ErrProofRequired
	}
	if !stored.expiresAt.After(g.clock().UTC()) {
		return ErrProofRequired
	}
	if subtle.ConstantTimeCompare([]byte(stored.token), []byte(token)) != 1 {
		return ErrProofRequired
	}
	return nil
}

// DeleteExpired reaps proofs whose window has passed.
func (g *Gate) DeleteExpired(now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for accountID, stored := range g.proofs {
		if !stored.expiresAt.After(now) {
			delete(g.proofs, accountID)
		}
	}
}
