package identity

import (
	"testing"
	"time"
)

func testUser() *User {
	return &User{
		ID:       "user-42",
		Email:    "owner@example.com",
		Name:     "Owner",
		Role:     "admin",
		Status:   StatusActive,
		Verified: true,
	}
}

func TestSignerIssueAndParse(t *testing.T) {
	signer, err := NewSigner("test-secret", "tavolo-test", 30*time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	token, exp, err := signer.Issue(testUser(), "sess-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiration, got %v", exp)
	}

	claims, err := signer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Role != "admin" {
		t.Fatalf("unexpected role: %s", claims.Role)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("unexpected session id: %s", claims.SessionID)
	}
	if claims.Issuer != "tavolo-test" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestSignerRejectsExpiredToken(t *testing.T) {
	base := time.Now().UTC()
	clock := base
	signer, err := NewSigner("test-secret", "tavolo-test", time.Minute,
		WithSignerClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	token, _, err := signer.Issue(testUser(), "sess-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = base.Add(2 * time.Minute)
	if _, err := signer.Parse(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestSignerRejectsForeignIssuer(t *testing.T) {
	issue, err := NewSigner("test-secret", "someone-else", time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	verify, err := NewSigner("test-secret", "tavolo-test", time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	token, _, err := issue.Issue(testUser(), "sess-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verify.Parse(token); err == nil {
		t.Fatal("expected issuer mismatch to be rejected")
	}
}

func TestSignerRejectsGarbage(t *testing.T) {
	signer, err := NewSigner("test-secret", "tavolo-test", time.Minute)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	for _, raw := range []string{"", "  ", "a.b.c", "not-a-token"} {
		if _, err := signer.Parse(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}
