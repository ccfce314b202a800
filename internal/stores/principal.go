package stores

import (
	"context"
	"strings"
	"time"
)

// Principal is the persisted record of an end-user or administrator.
type Principal struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"password_hash"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Role         string     `json:"role,omitempty"`
	IsActive     bool       `json:"is_active"`
	IsVerified   bool       `json:"is_verified"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	// TokenVersion is bumped on every password change. Signed tokens carry
	// the version they were issued under and stop verifying once it moves.
	TokenVersion int `json:"token_version,omitempty"`
}

// PrincipalUpdate lists every field a stored principal may change after
// creation. Nil fields are left untouched; ID, Email and CreatedAt are
// immutable.
type PrincipalUpdate struct {
	PasswordHash *string
	FirstName    *string
	LastName     *string
	Role         *string
	IsActive     *bool
	IsVerified   *bool
	LastLoginAt  *time.Time
	TokenVersion *int
}

// Apply copies the set fields of u onto p and stamps UpdatedAt.
func (u PrincipalUpdate) Apply(p *Principal, now time.Time) {
	if u.PasswordHash != nil {
		p.PasswordHash = *u.PasswordHash
	}
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
	if u.IsActive != nil {
		p.IsActive = *u.IsActive
	}
	if u.IsVerified != nil {
		p.IsVerified = *u.IsVerified
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		p.LastLoginAt = &t
	}
	if u.TokenVersion != nil {
		p.TokenVersion = *u.TokenVersion
	}
	p.UpdatedAt = now
}

// PrincipalStore is the keyed record store for one principal class.
type PrincipalStore interface {
	FindByEmail(ctx context.Context, email string) (Principal, error)
	FindByID(ctx context.Context, id string) (Principal, error)
	Create(ctx context.Context, p Principal) error
	Update(ctx context.Context, id string, u PrincipalUpdate) (Principal, error)
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
