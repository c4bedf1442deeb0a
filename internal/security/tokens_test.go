package security

import (
	"testing"
	"time"
)

func TestTokenProvider_IssueAndValidateAccess(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, exp, err := p.IssueAccess("u1", "ADMIN")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if token == "" {
		t.Fatal("access token empty")
	}
	if !exp.After(time.Now()) {
		t.Fatal("expires at in the past")
	}
	id, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if id.UserID != "u1" || id.Role != "ADMIN" || id.JTI == "" {
		t.Errorf("ValidateAccess = %+v", id)
	}
}

func TestTokenProvider_ValidateAccessRejects(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	if _, err := p.ValidateAccess("invalid-token"); err != ErrInvalidToken {
		t.Errorf("malformed token: want ErrInvalidToken, got %v", err)
	}

	other := *p
	other.audience = "someone-else"
	token, _, err := other.IssueAccess("u1", "ADMIN")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Errorf("wrong audience: want ErrInvalidToken, got %v", err)
	}

	old := *p
	old.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, _, err = old.IssueAccess("u1", "ADMIN")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := p.ValidateAccess(token); err != ErrInvalidToken {
		t.Errorf("expired token: want ErrInvalidToken, got %v", err)
	}
}

func TestTokenProvider_ES256(t *testing.T) {
	k, err := GenerateDevKey()
	if err != nil {
		t.Fatalf("GenerateDevKey: %v", err)
	}
	p := NewTokenProvider(k, k.Public(), "iss", "aud", time.Minute)
	token, _, err := p.IssueAccess("u2", "MANAGER")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	id, err := p.ValidateAccess(token)
	if err != nil || id.Role != "MANAGER" {
		t.Errorf("ValidateAccess = %+v, %v", id, err)
	}
}
