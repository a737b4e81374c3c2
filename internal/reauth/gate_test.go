package reauth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndVerifyProof(t *testing.T) {
	gate := NewGate(5 * time.Minute)

	token, err := gate.IssueProof("acct-1")
	if err != nil {
		t.Fatalf("issue proof: %v", err)
	}
	if token == "" {
		t.Fatal("expected proof token")
	}
	if err := gate.VerifyProof("acct-1", token); err != nil {
		t.Fatalf("verify proof: %v", err)
	}
}

func TestVerifyProofConsumesOnSuccess(t *testing.T) {
	gate := NewGate(5 * time.Minute)
	token, err := gate.IssueProof("acct-1")
	if err != nil {
		t.Fatalf("issue proof: %v", err)
	}

	if err := gate.VerifyProof("acct-1", token); err != nil {
		t.Fatalf("verify proof: %v", err)
	}
	if err := gate.VerifyProof("acct-1", token); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("err = %v, want ErrProofRequired on reuse", err)
	}
}

func TestVerifyProofConsumesOnFailure(t *testing.T) {
	gate := NewGate(5 * time.Minute)
	token, err := gate.IssueProof("acct-1")
	if err != nil {
		t.Fatalf("issue proof: %v", err)
	}

	if err := gate.VerifyProof("acct-1", "wrong-token"); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("err = %v, want ErrProofRequired", err)
	}
	// One bad guess burns the proof; the real token no longer works.
	if err := gate.VerifyProof("acct-1", token); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("err = %v, want ErrProofRequired after burned proof", err)
	}
}

func TestVerifyProofMissing(t *testing.T) {
	gate := NewGate(5 * time.Minute)
	if err := gate.VerifyProof("acct-1", "anything"); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("err = %v, want ErrProofRequired", err)
	}
}

func TestVerifyProofExpired(t *testing.T) {
	gate := NewGate(5 * time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gate.clock = func() time.Time { return now }

	token, err := gate.IssueProof("acct-1")
	if err != nil {
		t.Fatalf("issue proof: %v", err)
	}

	now = now.Add(10 * time.Minute)
	if err := gate.VerifyProof("acct-1", token); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("err = %v, want ErrProofRequired after expiry", err)
	}
}

func TestIssueProofReplacesLiveProof(t *testing.T) {
	gate := NewGate(5 * time.Minute)
	first, err := gate.IssueProof("acct-1")
	if err != nil {
		t.Fatalf("issue first: %v", err)
	}
	second, err := gate.IssueProof("acct-1")
	if err != nil {
		t.Fatalf("issue second: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct proofs")
	}

	if err := gate.VerifyProof("acct-1", first); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("err = %v, want stale proof rejected", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	gate := NewGate(5 * time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	gate.clock = func() time.Time { return now }

	if _, err := gate.IssueProof("stale"); err != nil {
		t.Fatalf("issue: %v", err)
	}
	liveToken := ""
	now = now.Add(4 * time.Minute)
	if token, err := gate.IssueProof("live"); err != nil {
		t.Fatalf("issue: %v", err)
	} else {
		liveToken = token
	}

	gate.DeleteExpired(now.Add(2 * time.Minute))

	if err := gate.VerifyProof("stale", "anything"); !errors.Is(err, ErrProofRequired) {
		t.Fatalf("err = %v, want stale proof reaped", err)
	}
	now = now.Add(time.Minute)
	if err := gate.VerifyProof("live", liveToken); err != nil {
		t.Fatalf("verify live: %v", err)
	}
}
