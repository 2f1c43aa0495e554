// Package auth implements the Control API's bearer-token authentication:
// login against the Principal registry, JWT issuance/validation, and
// role re-checks for privileged operations (SPEC_FULL.md §4.1).
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/ventiapi/orchestrator/domain/principal"
)

var (
	ErrUnauthorised        = errors.New("unauthorised")
	ErrSecretNotConfigured = errors.New("token signing secret not configured")
)

// Claims are the JWT claims issued for an authenticated Principal. Role is
// embedded so middleware can make a fast admission decision without a
// registry lookup on every request; privileged operations re-check the
// Principal record itself so a deactivated or demoted principal's
// outstanding tokens stop working immediately (§4.1 design decision:
// "stale-claim closing").
type Claims struct {
	PrincipalID string         `json:"pid"`
	Login       string         `json:"sub"`
	Role        principal.Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and validates bearer tokens against a Principal registry.
// The signing key is derived from the configured token_signing_secret via
// HKDF rather than used directly, so the raw operator-supplied secret
// never touches the JWT library (§4.1).
type Manager struct {
	signingKey []byte
	ttl        time.Duration

	mu         sync.RWMutex
	principals map[string]*principal.Principal // keyed by normalized login
	byID       map[string]*principal.Principal
}

// NewManager builds a Manager. secret must be non-empty; callers should
// have already rejected an empty token_signing_secret at startup
// (pkg/config.Config.Validate enforces this ahead of NewManager).
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrSecretNotConfigured
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		signingKey: deriveSigningKey(secret),
		ttl:        ttl,
		principals: make(map[string]*principal.Principal),
		byID:       make(map[string]*principal.Principal),
	}, nil
}

// deriveSigningKey expands the operator-supplied secret into a 32-byte
// HMAC key via HKDF-SHA3-256, the same extract-then-expand construction
// the teacher used for wallet nonces, redirected here to key derivation
// instead of nonce derivation.
func deriveSigningKey(secret string) []byte {
	h := hkdf.New(sha3.New256, []byte(secret), nil, []byte("orchestrator-token-signing-key"))
	key := make([]byte, 32)
	_, _ = h.Read(key)
	return key
}

// Register adds or replaces a Principal in the in-process registry. Used
// at startup to seed the configured admin account and any additional
// users (pkg/config.AuthConfig.Users).
func (m *Manager) Register(p *principal.Principal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.principals[p.Login] = p
	m.byID[p.ID] = p
}

// HasPrincipals reports whether any principal is registered.
func (m *Manager) HasPrincipals() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.principals) > 0
}

// Authenticate verifies login/password against the registry.
func (m *Manager) Authenticate(login, password string) (*principal.Principal, error) {
	login = strings.ToLower(strings.TrimSpace(login))
	m.mu.RLock()
	p, ok := m.principals[login]
	m.mu.RUnlock()
	if !ok || !p.Active || !p.VerifyPassword(password) {
		return nil, ErrUnauthorised
	}
	return p, nil
}

// Issue returns a signed JWT for the given Principal.
func (m *Manager) Issue(p *principal.Principal) (string, time.Time, error) {
	exp := time.Now().Add(m.ttl)
	claims := Claims{
		PrincipalID: p.ID,
		Login:       p.Login,
		Role:        p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   p.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.signingKey)
	return signed, exp, err
}

// Validate parses and validates a bearer token, returning its claims. It also
// re-checks the token's subject against the live Principal registry and
// rejects tokens whose subject has since been deactivated or removed — every
// authenticated route goes through Validate, so this is what makes
// deactivation take effect immediately instead of only at token expiry
// (§4.1), not just the admin-gated operations that separately call
// RequirePrincipalRole.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}

	m.mu.RLock()
	p, known := m.byID[claims.PrincipalID]
	m.mu.RUnlock()
	if !known || !p.Active {
		return nil, ErrUnauthorised
	}

	return claims, nil
}

// RequireRole re-checks claims.Role against the live Principal record
// before a privileged operation proceeds, rather than trusting the token's
// embedded role alone (§4.1: a principal deactivated or demoted after a
// token was issued must lose access immediately, not at token expiry).
func (m *Manager) RequireRole(claims *Claims, required principal.Role) error {
	if claims == nil {
		return ErrUnauthorised
	}
	return m.RequirePrincipalRole(claims.PrincipalID, required)
}

// RequirePrincipalRole re-checks a principal id's live role and active
// status against the registry, independent of any bearer token's embedded
// claim. Callers that only have a principal id (the Control API handlers,
// which read it out of request context rather than holding onto the
// validated Claims) use this instead of RequireRole.
func (m *Manager) RequirePrincipalRole(principalID string, required principal.Role) error {
	m.mu.RLock()
	p, ok := m.byID[principalID]
	m.mu.RUnlock()
	if !ok || !p.Active || !p.CanAccess(required) {
		return ErrUnauthorised
	}
	return nil
}
