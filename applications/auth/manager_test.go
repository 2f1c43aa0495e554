package auth

import (
	"testing"
	"time"

	"github.com/ventiapi/orchestrator/domain/principal"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager("test-signing-secret-at-least-32-bytes!!", time.Hour)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestNewManagerRejectsEmptySecret(t *testing.T) {
	if _, err := NewManager("  ", time.Hour); err != ErrSecretNotConfigured {
		t.Fatalf("expected ErrSecretNotConfigured, got %v", err)
	}
}

func TestAuthenticateSucceedsForRegisteredPrincipal(t *testing.T) {
	m := newTestManager(t)
	p, err := principal.New("u1", "alice", "correct horse battery staple", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	m.Register(p)

	got, err := m.Authenticate("Alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != "u1" {
		t.Fatalf("expected principal u1, got %s", got.ID)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	m := newTestManager(t)
	p, err := principal.New("u1", "alice", "correct horse battery staple", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	m.Register(p)

	if _, err := m.Authenticate("alice", "wrong"); err != ErrUnauthorised {
		t.Fatalf("expected ErrUnauthorised, got %v", err)
	}
}

func TestAuthenticateRejectsUnknownLogin(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Authenticate("nobody", "whatever"); err != ErrUnauthorised {
		t.Fatalf("expected ErrUnauthorised, got %v", err)
	}
}

func TestAuthenticateRejectsInactivePrincipal(t *testing.T) {
	m := newTestManager(t)
	p, err := principal.New("u1", "alice", "correct horse battery staple", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	p.Active = false
	m.Register(p)

	if _, err := m.Authenticate("alice", "correct horse battery staple"); err != ErrUnauthorised {
		t.Fatalf("expected ErrUnauthorised for inactive principal, got %v", err)
	}
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	m := newTestManager(t)
	p, err := principal.New("u1", "alice", "correct horse battery staple", principal.RoleAdmin)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	m.Register(p)

	token, exp, err := m.Issue(p)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected a non-empty token")
	}
	if !exp.After(time.Now()) {
		t.Fatal("expected expiry in the future")
	}

	claims, err := m.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if claims.PrincipalID != "u1" || claims.Role != principal.RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	m := newTestManager(t)
	p, err := principal.New("u1", "alice", "correct horse battery staple", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	m.Register(p)

	token, _, err := m.Issue(p)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := m.Validate(token + "tampered"); err == nil {
		t.Fatal("expected tampered token to fail validation")
	}
}

func TestValidateRejectsTokenFromADifferentSecret(t *testing.T) {
	m1 := newTestManager(t)
	m2, err := NewManager("a-completely-different-secret-value!!!!", time.Hour)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	p, err := principal.New("u1", "alice", "correct horse battery staple", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	m1.Register(p)

	token, _, err := m1.Issue(p)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := m2.Validate(token); err == nil {
		t.Fatal("expected token signed by a different manager's key to fail validation")
	}
}

func TestRequirePrincipalRoleClosesOverDemotion(t *testing.T) {
	m := newTestManager(t)
	admin, err := principal.New("a1", "admin", "correct horse battery staple", principal.RoleAdmin)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	m.Register(admin)

	if err := m.RequirePrincipalRole("a1", principal.RoleAdmin); err != nil {
		t.Fatalf("expected admin access to be granted, got %v", err)
	}

	// Demote the principal and re-register; a previously issued token's
	// embedded role claim must no longer grant admin access (§4.1).
	demoted, err := principal.New("a1", "admin", "correct horse battery staple", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	m.Register(demoted)

	if err := m.RequirePrincipalRole("a1", principal.RoleAdmin); err == nil {
		t.Fatal("expected demoted principal to lose admin access immediately")
	}
}

func TestValidateRejectsTokenFromDeactivatedPrincipal(t *testing.T) {
	m := newTestManager(t)
	p, err := principal.New("u1", "alice", "correct horse battery staple", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	m.Register(p)

	token, _, err := m.Issue(p)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := m.Validate(token); err != nil {
		t.Fatalf("expected the token to validate while active, got %v", err)
	}

	// Deactivate the principal (e.g. an admin disables the account) without
	// revoking the already-issued token; Validate must reject it immediately
	// rather than waiting for natural expiry (§4.1).
	deactivated, err := principal.New("u1", "alice", "correct horse battery staple", principal.RoleUser)
	if err != nil {
		t.Fatalf("principal.New() error = %v", err)
	}
	deactivated.Active = false
	m.Register(deactivated)

	if _, err := m.Validate(token); err != ErrUnauthorised {
		t.Fatalf("expected ErrUnauthorised for a deactivated principal's token, got %v", err)
	}
}

func TestRequirePrincipalRoleRejectsUnknownPrincipal(t *testing.T) {
	m := newTestManager(t)
	if err := m.RequirePrincipalRole("ghost", principal.RoleUser); err == nil {
		t.Fatal("expected unknown principal to be rejected")
	}
}
