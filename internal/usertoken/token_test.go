package usertoken

import (
	"testing"
	"time"

	"docvault/pkg/domain"
)

func newService(t *testing.T, cfg Config) *Service {
	t.Helper()
	if cfg.Secret == "" {
		cfg.Secret = "test-secret"
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return s
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	s := newService(t, Config{})
	user := domain.User{ID: "user-1", Email: "a@x.com", Role: domain.RoleAdmin}

	token, err := s.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	principal, err := s.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if principal.ID != "user-1" || principal.Email != "a@x.com" || principal.Role != domain.RoleAdmin {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := newService(t, Config{Secret: "secret-a"})
	verifier := newService(t, Config{Secret: "secret-b"})

	token, err := issuer.Issue(domain.User{ID: "user-1", Email: "a@x.com", Role: domain.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Fatalf("expected verification failure across secrets")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	s := newService(t, Config{TTL: -time.Hour, Leeway: time.Millisecond})
	token, err := s.Issue(domain.User{ID: "user-1", Email: "a@x.com", Role: domain.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := s.Verify(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := newService(t, Config{})
	if _, err := s.Verify("not.a.token"); err == nil {
		t.Fatalf("expected garbage token to be rejected")
	}
}
