package recovery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/louisbranch/passlock/internal/account"
	"github.com/louisbranch/passlock/internal/storage"
)

type fakeRecoveryStore struct {
	requests    map[string]storage.RecoveryRequest
	credentials []storage.Credential
	putErr      error
	completeErr error
}

func newFakeRecoveryStore() *fakeRecoveryStore {
	return &fakeRecoveryStore{requests: make(map[string]storage.RecoveryRequest)}
}

func (s *fakeRecoveryStore) PutRecoveryRequest(_ context.Context, request storage.RecoveryRequest) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.requests[request.ID] = request
	return nil
}

func (s *fakeRecoveryStore) GetRecoveryRequestByDigest(_ context.Context, digest string) (storage.RecoveryRequest, error) {
	for _, request := range s.requests {
		if request.TokenDigest == digest {
			return request, nil
		}
	}
	return storage.RecoveryRequest{}, storage.ErrNotFound
}

func (s *fakeRecoveryStore) CompleteRecovery(_ context.Context, requestID string, usedAt time.Time, credential storage.Credential) error {
	if s.completeErr != nil {
		return s.completeErr
	}
	request, ok := s.requests[requestID]
	if !ok {
		return storage.ErrNotFound
	}
	if request.UsedAt != nil {
		return storage.ErrRecoveryAlreadyUsed
	}
	request.UsedAt = &usedAt
	s.requests[requestID] = request
	s.credentials = append(s.credentials, credential)
	return nil
}

type fakeNotifier struct {
	acct      account.Account
	rawToken  string
	expiresAt time.Time
	err       error
	calls     int
}

func (n *fakeNotifier) RecoveryRequested(_ context.Context, acct account.Account, rawToken string, expiresAt time.Time) error {
	n.calls++
	n.acct = acct
	n.rawToken = rawToken
	n.expiresAt = expiresAt
	return n.err
}

func newTestManager(t *testing.T, store storage.RecoveryStore, notifier Notifier) *Manager {
	t.Helper()
	manager, err := NewManager(Config{Window: time.Hour, Secret: "test-secret", SignInAfterRecovery: true}, store, notifier)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return manager
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(Config{Window: time.Hour}, newFakeRecoveryStore(), nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRequestStoresDigestOnly(t *testing.T) {
	store := newFakeRecoveryStore()
	notifier := &fakeNotifier{}
	manager := newTestManager(t, store, notifier)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	manager.clock = func() time.Time { return fixed }

	acct := account.Account{ID: "acct-1", Email: "alpha@example.com"}
	rawToken, request, err := manager.Request(context.Background(), acct)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if rawToken == "" {
		t.Fatal("expected raw token")
	}

	stored := store.requests[request.ID]
	if stored.TokenDigest == rawToken {
		t.Fatal("raw token must not be persisted")
	}
	if strings.Contains(stored.TokenDigest, rawToken) {
		t.Fatal("raw token leaked into the digest")
	}
	if stored.TokenDigest != manager.Digest(rawToken) {
		t.Fatal("stored digest does not match the raw token")
	}
	if !stored.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Fatalf("expires at = %v, want one hour window", stored.ExpiresAt)
	}
	if stored.UsedAt != nil {
		t.Fatal("new request must start unused")
	}

	if notifier.calls != 1 || notifier.rawToken != rawToken {
		t.Fatalf("notifier calls = %d token = %q", notifier.calls, notifier.rawToken)
	}
	if notifier.acct.Email != "alpha@example.com" {
		t.Fatalf("notifier account = %q", notifier.acct.Email)
	}
}

func TestRequestSurvivesNotifierFailure(t *testing.T) {
	store := newFakeRecoveryStore()
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	manager := newTestManager(t, store, notifier)

	if _, _, err := manager.Request(context.Background(), account.Account{ID: "acct-1"}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(store.requests) != 1 {
		t.Fatalf("requests stored = %d, want 1", len(store.requests))
	}
}

func TestRedeemRoundTrip(t *testing.T) {
	store := newFakeRecoveryStore()
	manager := newTestManager(t, store, nil)
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	manager.clock = func() time.Time { return fixed }

	rawToken, request, err := manager.Request(context.Background(), account.Account{ID: "acct-1"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	got, err := manager.Redeem(context.Background(), rawToken)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got.ID != request.ID || got.AccountID != "acct-1" {
		t.Fatalf("redeemed request = %+v", got)
	}
}

func TestRedeemUnknownToken(t *testing.T) {
	manager := newTestManager(t, newFakeRecoveryStore(), nil)
	if _, err := manager.Redeem(context.Background(), "no-such-token"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
	if _, err := manager.Redeem(context.Background(), ""); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound for empty token", err)
	}
}

func TestRedeemExpiredToken(t *testing.T) {
	store := newFakeRecoveryStore()
	manager := newTestManager(t, store, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	manager.clock = func() time.Time { return now }

	rawToken, _, err := manager.Request(context.Background(), account.Account{ID: "acct-1"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := manager.Redeem(context.Background(), rawToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestRedeemUsedToken(t *testing.T) {
	store := newFakeRecoveryStore()
	manager := newTestManager(t, store, nil)

	rawToken, request, err := manager.Request(context.Background(), account.Account{ID: "acct-1"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := manager.Complete(context.Background(), request.ID, storage.Credential{ExternalID: "cred-1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, err := manager.Redeem(context.Background(), rawToken); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("err = %v, want ErrTokenAlreadyUsed", err)
	}
}

func TestCompleteClaimsOnce(t *testing.T) {
	store := newFakeRecoveryStore()
	manager := newTestManager(t, store, nil)

	_, request, err := manager.Request(context.Background(), account.Account{ID: "acct-1"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	credential := storage.Credential{ExternalID: "cred-1", AccountID: "acct-1"}
	if err := manager.Complete(context.Background(), request.ID, credential); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := manager.Complete(context.Background(), request.ID, credential); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("err = %v, want ErrTokenAlreadyUsed", err)
	}
	if len(store.credentials) != 1 {
		t.Fatalf("credentials stored = %d, want 1", len(store.credentials))
	}
}

func TestCompleteUnknownRequest(t *testing.T) {
	manager := newTestManager(t, newFakeRecoveryStore(), nil)
	err := manager.Complete(context.Background(), "missing", storage.Credential{})
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound", err)
	}
}

func TestDigestDependsOnSecret(t *testing.T) {
	first, err := NewManager(Config{Window: time.Hour, Secret: "secret-a"}, newFakeRecoveryStore(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	second, err := NewManager(Config{Window: time.Hour, Secret: "secret-b"}, newFakeRecoveryStore(), nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if first.Digest("token") == second.Digest("token") {
		t.Fatal("digests must differ across secrets")
	}
	if first.Digest("token") != first.Digest("token") {
		t.Fatal("digest must be deterministic")
	}
}
