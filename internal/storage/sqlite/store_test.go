package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/passlock/internal/account"
	"github.com/louisbranch/passlock/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func putTestAccount(t *testing.T, store *Store, id, email string) account.Account {
	t.Helper()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	acct := account.Account{
		ID:        id,
		Email:     email,
		Handle:    []byte(id + "-handle"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.PutAccount(context.Background(), acct); err != nil {
		t.Fatalf("put account: %v", err)
	}
	return acct
}

func testCredential(accountID, externalID string, signCount uint32) storage.Credential {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return storage.Credential{
		ExternalID: externalID,
		AccountID:  accountID,
		Label:      "laptop",
		PublicKey:  []byte("public-key"),
		SignCount:  signCount,
		Transports: []string{"internal", "hybrid"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestAccountRoundTrip(t *testing.T) {
	store := openTestStore(t)
	want := putTestAccount(t, store, "acct-1", "alice@example.com")

	got, err := store.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if got.Email != want.Email {
		t.Fatalf("email = %q, want %q", got.Email, want.Email)
	}
	if string(got.Handle) != string(want.Handle) {
		t.Fatalf("handle = %q, want %q", got.Handle, want.Handle)
	}

	byEmail, err := store.GetAccountByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("get account by email: %v", err)
	}
	if byEmail.ID != "acct-1" {
		t.Fatalf("id = %q, want %q", byEmail.ID, "acct-1")
	}
}

func TestGetAccountNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetAccount(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	_, err = store.GetAccountByEmail(context.Background(), "missing@example.com")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutAccountDuplicateEmail(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")

	err := store.PutAccount(context.Background(), account.Account{
		ID:        "acct-2",
		Email:     "alice@example.com",
		Handle:    []byte("other-handle"),
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if !errors.Is(err, storage.ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")

	want := testCredential("acct-1", "cred-1", 0)
	if err := store.CreateCredential(context.Background(), want); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	got, err := store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.AccountID != "acct-1" {
		t.Fatalf("account id = %q, want %q", got.AccountID, "acct-1")
	}
	if got.SignCount != 0 {
		t.Fatalf("sign count = %d, want 0", got.SignCount)
	}
	if len(got.Transports) != 2 || got.Transports[0] != "internal" {
		t.Fatalf("transports = %v, want [internal hybrid]", got.Transports)
	}
	if got.LastUsedAt != nil {
		t.Fatalf("expected nil last used, got %v", got.LastUsedAt)
	}

	listed, err := store.ListCredentials(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed %d credentials, want 1", len(listed))
	}
}

func TestCreateCredentialDuplicateExternalID(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")
	putTestAccount(t, store, "acct-2", "bob@example.com")

	if err := store.CreateCredential(context.Background(), testCredential("acct-1", "cred-1", 0)); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	err := store.CreateCredential(context.Background(), testCredential("acct-2", "cred-1", 0))
	if !errors.Is(err, storage.ErrDuplicateCredential) {
		t.Fatalf("err = %v, want ErrDuplicateCredential", err)
	}
}

func TestApplyAssertionAdvancesCounter(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")
	if err := store.CreateCredential(context.Background(), testCredential("acct-1", "cred-1", 5)); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	usedAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if err := store.ApplyAssertion(context.Background(), "cred-1", 6, usedAt); err != nil {
		t.Fatalf("apply assertion: %v", err)
	}

	got, err := store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignCount != 6 {
		t.Fatalf("sign count = %d, want 6", got.SignCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(usedAt) {
		t.Fatalf("last used = %v, want %v", got.LastUsedAt, usedAt)
	}
}

func TestApplyAssertionRollbackKeepsCounter(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")
	if err := store.CreateCredential(context.Background(), testCredential("acct-1", "cred-1", 5)); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	// Equal counter reported by a cloned authenticator must lose.
	err := store.ApplyAssertion(context.Background(), "cred-1", 5, time.Now())
	if !errors.Is(err, storage.ErrSignCountRollback) {
		t.Fatalf("err = %v, want ErrSignCountRollback", err)
	}

	got, err := store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignCount != 5 {
		t.Fatalf("sign count = %d, want unchanged 5", got.SignCount)
	}
	if got.LastUsedAt != nil {
		t.Fatalf("expected last used to stay nil, got %v", got.LastUsedAt)
	}
}

func TestApplyAssertionZeroAgainstZero(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")
	if err := store.CreateCredential(context.Background(), testCredential("acct-1", "cred-1", 0)); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	// Authenticators that never increment report zero forever.
	if err := store.ApplyAssertion(context.Background(), "cred-1", 0, time.Now()); err != nil {
		t.Fatalf("apply assertion: %v", err)
	}
}

func TestApplyAssertionMissingCredential(t *testing.T) {
	store := openTestStore(t)
	err := store.ApplyAssertion(context.Background(), "missing", 1, time.Now())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateCredentialLabel(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")
	if err := store.CreateCredential(context.Background(), testCredential("acct-1", "cred-1", 0)); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	if err := store.UpdateCredentialLabel(context.Background(), "acct-1", "cred-1", "yubikey", time.Now()); err != nil {
		t.Fatalf("update label: %v", err)
	}
	got, err := store.GetCredential(context.Background(), "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.Label != "yubikey" {
		t.Fatalf("label = %q, want %q", got.Label, "yubikey")
	}

	err = store.UpdateCredentialLabel(context.Background(), "acct-2", "cred-1", "nope", time.Now())
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for other account", err)
	}
}

func TestDeleteCredentialScopedToAccount(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")
	if err := store.CreateCredential(context.Background(), testCredential("acct-1", "cred-1", 0)); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	err := store.DeleteCredential(context.Background(), "acct-2", "cred-1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for other account", err)
	}
	if err := store.DeleteCredential(context.Background(), "acct-1", "cred-1"); err != nil {
		t.Fatalf("delete credential: %v", err)
	}
	_, err = store.GetCredential(context.Background(), "cred-1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}

func TestRecoveryRequestRoundTrip(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	request := storage.RecoveryRequest{
		ID:          "rec-1",
		AccountID:   "acct-1",
		TokenDigest: "digest-1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := store.PutRecoveryRequest(context.Background(), request); err != nil {
		t.Fatalf("put recovery request: %v", err)
	}

	got, err := store.GetRecoveryRequestByDigest(context.Background(), "digest-1")
	if err != nil {
		t.Fatalf("get recovery request: %v", err)
	}
	if got.AccountID != "acct-1" {
		t.Fatalf("account id = %q, want %q", got.AccountID, "acct-1")
	}
	if got.UsedAt != nil {
		t.Fatalf("expected unused request, got used at %v", got.UsedAt)
	}
	if !got.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires at = %v, want %v", got.ExpiresAt, now.Add(time.Hour))
	}
}

func TestCompleteRecoveryClaimsOnce(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	request := storage.RecoveryRequest{
		ID:          "rec-1",
		AccountID:   "acct-1",
		TokenDigest: "digest-1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := store.PutRecoveryRequest(context.Background(), request); err != nil {
		t.Fatalf("put recovery request: %v", err)
	}

	usedAt := now.Add(10 * time.Minute)
	if err := store.CompleteRecovery(context.Background(), "rec-1", usedAt, testCredential("acct-1", "cred-new", 0)); err != nil {
		t.Fatalf("complete recovery: %v", err)
	}

	got, err := store.GetRecoveryRequestByDigest(context.Background(), "digest-1")
	if err != nil {
		t.Fatalf("get recovery request: %v", err)
	}
	if got.UsedAt == nil || !got.UsedAt.Equal(usedAt) {
		t.Fatalf("used at = %v, want %v", got.UsedAt, usedAt)
	}
	if _, err := store.GetCredential(context.Background(), "cred-new"); err != nil {
		t.Fatalf("get new credential: %v", err)
	}

	// Second completion must lose and must not create another credential.
	err = store.CompleteRecovery(context.Background(), "rec-1", usedAt.Add(time.Minute), testCredential("acct-1", "cred-extra", 0))
	if !errors.Is(err, storage.ErrRecoveryAlreadyUsed) {
		t.Fatalf("err = %v, want ErrRecoveryAlreadyUsed", err)
	}
	_, err = store.GetCredential(context.Background(), "cred-extra")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want no extra credential", err)
	}
}

func TestCompleteRecoveryRollsBackOnDuplicateCredential(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")
	if err := store.CreateCredential(context.Background(), testCredential("acct-1", "cred-1", 0)); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	request := storage.RecoveryRequest{
		ID:          "rec-1",
		AccountID:   "acct-1",
		TokenDigest: "digest-1",
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	if err := store.PutRecoveryRequest(context.Background(), request); err != nil {
		t.Fatalf("put recovery request: %v", err)
	}

	err := store.CompleteRecovery(context.Background(), "rec-1", now, testCredential("acct-1", "cred-1", 0))
	if !errors.Is(err, storage.ErrDuplicateCredential) {
		t.Fatalf("err = %v, want ErrDuplicateCredential", err)
	}

	// The claim must have rolled back with the failed insert.
	got, err := store.GetRecoveryRequestByDigest(context.Background(), "digest-1")
	if err != nil {
		t.Fatalf("get recovery request: %v", err)
	}
	if got.UsedAt != nil {
		t.Fatalf("expected claim rollback, got used at %v", got.UsedAt)
	}
}

func TestCompleteRecoveryMissingRequest(t *testing.T) {
	store := openTestStore(t)
	putTestAccount(t, store, "acct-1", "alice@example.com")
	err := store.CompleteRecovery(context.Background(), "missing", time.Now(), testCredential("acct-1", "cred-1", 0))
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
