// Package principal holds the Principal domain model: an authenticated
// identity (SPEC §3, §4.1).
package principal

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Role governs admission to admin-only operations.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleUser:
		return true
	default:
		return false
	}
}

// Principal is an authenticated identity.
type Principal struct {
	ID             string
	Login          string
	Role           Role
	CredentialHash string
	Active         bool
	CreatedAt      time.Time
}

// New creates an active Principal with a bcrypt-hashed credential.
func New(id, login, password string, role Role) (*Principal, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &Principal{
		ID:             id,
		Login:          strings.ToLower(strings.TrimSpace(login)),
		Role:           role,
		CredentialHash: hash,
		Active:         true,
		CreatedAt:      time.Now(),
	}, nil
}

// HashPassword salts and hashes a password with bcrypt, the standard
// third-party library for a salted, constant-time-verified password hash
// (SPEC §4.1).
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares password against the Principal's stored hash in
// constant time via bcrypt.
func (p *Principal) VerifyPassword(password string) bool {
	if p == nil || p.CredentialHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(p.CredentialHash), []byte(password)) == nil
}

// CanAccess reports whether the principal's role satisfies required.
func (p *Principal) CanAccess(required Role) bool {
	if p == nil || !p.Active {
		return false
	}
	if required == RoleUser {
		return true
	}
	return p.Role == RoleAdmin
}
