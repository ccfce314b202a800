package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with HMAC-SHA256 over a shared secret (default).
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 private key.
	MethodEd25519 SigningMethod = "ed25519"
)

// Kind separates short-lived access tokens from long-lived refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Audience separates end-user tokens from administrator tokens.
type Audience string

const (
	AudienceEndUser Audience = "end-user"
	AudienceAdmin   Audience = "admin"
)

// Valid reports whether a is one of the known audiences.
func (a Audience) Valid() bool {
	return a == AudienceEndUser || a == AudienceAdmin
}

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	minHMACKeyBytes   = 32

	// TokenTypeBearer is the token_type reported alongside issued pairs.
	TokenTypeBearer = "Bearer"
)

var (
	// ErrTokenInvalid is wrapped by every verification failure: malformed,
	// bad signature, expired, wrong issuer, wrong audience or wrong kind.
	ErrTokenInvalid = errors.New("invalid token")
)

// Config holds signer settings. It is copied at construction.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod SigningMethod
	// Key is the HMAC secret for HS256, or an Ed25519 seed, raw private key
	// or PEM private key for Ed25519.
	Key          []byte
	Issuer       string
	Leeway       time.Duration
	MaxFutureIAT time.Duration
	KeyID        string
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Subject is the principal data embedded in issued tokens. Only
// non-sensitive display fields belong here.
type Subject struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Role      string
	// Version is the principal's credential version at issue time.
	Version int
}

// Claims is the verified claim set of a token.
type Claims struct {
	Kind      Kind   `json:"kind"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
	Version   int    `json:"ver,omitempty"`
	jwt.RegisteredClaims
}

// PrincipalID returns the subject claim.
func (c *Claims) PrincipalID() string {
	return c.Subject
}

// Pair is an access/refresh token pair as returned to clients.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int64
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Manager issues and verifies signed tokens for both audiences with one key.
//
// Manager is immutable after NewManager and safe for concurrent use.
type Manager struct {
	config    Config
	signKey   interface{}
	verifyKey interface{}
	method    jwt.SigningMethod
}

// NewManager validates cfg and prepares the signing keys.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("issuer is required")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{config: cfg}
	switch cfg.SigningMethod {
	case MethodHS256, "":
		if len(cfg.Key) < minHMACKeyBytes {
			return nil, errors.New("hs256 requires a key of at least 32 bytes")
		}
		m.config.SigningMethod = MethodHS256
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.Key
		m.verifyKey = cfg.Key
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		m.method = jwt.SigningMethodEdDSA
		m.signKey = priv
		m.verifyKey = priv.Public()
	default:
		return nil, errors.New("unsupported signing method")
	}

	return m, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration {
	return m.config.AccessTTL
}

// RefreshTTL returns the configured refresh token lifetime.
func (m *Manager) RefreshTTL() time.Duration {
	return m.config.RefreshTTL
}

// IssueAccess signs a short-lived access token carrying the subject's
// display claims.
func (m *Manager) IssueAccess(sub Subject, aud Audience) (string, time.Time, error) {
	claims := Claims{
		Email:     sub.Email,
		FirstName: sub.FirstName,
		LastName:  sub.LastName,
	}
	if aud == AudienceAdmin {
		claims.Role = sub.Role
	}
	return m.issue(sub, aud, KindAccess, m.config.AccessTTL, claims)
}

// IssueRefresh signs a long-lived refresh token. It carries only the
// subject id, plus the role for administrators.
func (m *Manager) IssueRefresh(sub Subject, aud Audience) (string, time.Time, error) {
	claims := Claims{}
	if aud == AudienceAdmin {
		claims.Role = sub.Role
	}
	return m.issue(sub, aud, KindRefresh, m.config.RefreshTTL, claims)
}

// IssuePair issues an access and a refresh token for the same subject.
func (m *Manager) IssuePair(sub Subject, aud Audience) (Pair, error) {
	access, accessExp, err := m.IssueAccess(sub, aud)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := m.IssueRefresh(sub, aud)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        TokenTypeBearer,
		ExpiresIn:        int64(m.config.AccessTTL / time.Second),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (m *Manager) issue(sub Subject, aud Audience, kind Kind, ttl time.Duration, claims Claims) (string, time.Time, error) {
	if strings.TrimSpace(sub.ID) == "" {
		return "", time.Time{}, errors.New("subject id is required")
	}
	if !aud.Valid() {
		return "", time.Time{}, errors.New("unknown audience")
	}

	now := m.config.Now()
	expiresAt := now.Add(ttl)

	claims.Kind = kind
	claims.Version = sub.Version
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   sub.ID,
		Issuer:    m.config.Issuer,
		Audience:  jwt.ClaimStrings{string(aud)},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(m.method, claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}

	signed, err := token.SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry, issuer, audience and kind. Any failure
// wraps ErrTokenInvalid; the underlying cause stays available to errors.Is
// for internal logging only.
func (m *Manager) Verify(tokenStr string, kind Kind, aud Audience) (*Claims, error) {
	if tokenStr == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}
	if !aud.Valid() {
		return nil, fmt.Errorf("%w: unknown audience %q", ErrTokenInvalid, aud)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(string(aud)),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != m.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.verifyKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, jwt.ErrTokenInvalidClaims)
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: kind %q, want %q", ErrTokenInvalid, claims.Kind, kind)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrTokenInvalid)
	}
	if claims.IssuedAt != nil {
		maxAllowed := m.config.Now().Add(m.config.MaxFutureIAT)
		if claims.IssuedAt.Time.After(maxAllowed) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
		}
	}

	return claims, nil
}

// IsExpired reports whether a Verify error was caused by token expiry. It
// exists for log classification; callers must not surface the distinction.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	switch len(key) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}
