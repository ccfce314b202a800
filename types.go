package tripauth

import (
	"time"

	"github.com/MrEthical07/tripauth/internal/stores"
	"github.com/MrEthical07/tripauth/jwt"
)

// Audience selects the principal class a call operates on.
type Audience = jwt.Audience

const (
	// AudienceEndUser is the storefront customer class.
	AudienceEndUser = jwt.AudienceEndUser
	// AudienceAdmin is the back-office operator class.
	AudienceAdmin = jwt.AudienceAdmin
)

// Administrator roles.
const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func validRole(role string) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}

// PrincipalView is the credential-free representation of a principal
// returned to callers.
type PrincipalView struct {
	ID          string     `json:"id"`
	Audience    Audience   `json:"audience"`
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Role        string     `json:"role,omitempty"`
	IsActive    bool       `json:"is_active"`
	IsVerified  bool       `json:"is_verified"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

// DisplayName joins first and last name, falling back to the e-mail.
func (v PrincipalView) DisplayName() string {
	switch {
	case v.FirstName != "" && v.LastName != "":
		return v.FirstName + " " + v.LastName
	case v.FirstName != "":
		return v.FirstName
	case v.LastName != "":
		return v.LastName
	default:
		return v.Email
	}
}

func viewOf(aud Audience, p stores.Principal) PrincipalView {
	v := PrincipalView{
		ID:         p.ID,
		Audience:   aud,
		Email:      p.Email,
		FirstName:  p.FirstName,
		LastName:   p.LastName,
		IsActive:   p.IsActive,
		IsVerified: p.IsVerified,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	if aud == AudienceAdmin {
		v.Role = p.Role
	}
	if p.LastLoginAt != nil {
		t := *p.LastLoginAt
		v.LastLoginAt = &t
	}
	return v
}

func subjectOf(p stores.Principal) jwt.Subject {
	return jwt.Subject{
		ID:        p.ID,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Role:      p.Role,
		Version:   p.TokenVersion,
	}
}

// TokenPair is an issued access/refresh pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// AuthResult is returned by flows that authenticate a principal.
type AuthResult struct {
	Principal PrincipalView `json:"principal"`
	Tokens    TokenPair     `json:"tokens"`
}

// Identity is the verified caller of an authenticated request.
type Identity struct {
	PrincipalID string
	Audience    Audience
	Email       string
	Role        string
	TokenID     string
	ExpiresAt   time.Time
}

// HasRole reports whether the identity carries one of roles.
func (i *Identity) HasRole(roles ...string) bool {
	if i == nil {
		return false
	}
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// RegisterInput is the end-user sign-up request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// CreateAdminInput describes a new administrator.
type CreateAdminInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

// ProfileUpdate lists the profile fields a principal may change about
// itself. Nil fields are left untouched.
type ProfileUpdate struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// Principal is a stored end-user or administrator record, credential hash
// included. It never crosses the Engine boundary; callers get PrincipalView.
type Principal = stores.Principal

// PrincipalUpdate is the allow-listed set of mutable principal fields.
type PrincipalUpdate = stores.PrincipalUpdate

// PrincipalStore is the contract for a custom principal backend, one per
// audience. See Builder.WithPrincipalStores.
type PrincipalStore = stores.PrincipalStore
