package jwt

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, mutate ...func(*Config)) (*Manager, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := Config{
		SigningMethod: MethodHS256,
		Key:           bytes.Repeat([]byte{0x5a}, 64),
		Issuer:        "tripauth-test",
		Now:           clock.Now,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m, clock
}

var alice = Subject{
	ID:        "6f1c1d1e-0000-4000-8000-000000000001",
	Email:     "alice@example.com",
	FirstName: "Alice",
	LastName:  "Doe",
}

var root = Subject{
	ID:    "6f1c1d1e-0000-4000-8000-0000000000ad",
	Email: "root@example.com",
	Role:  "super_admin",
}

func TestIssueAndVerifyAccess(t *testing.T) {
	m, clock := newTestManager(t)

	token, exp, err := m.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)
	assert.Equal(t, clock.now.Add(15*time.Minute), exp)

	claims, err := m.Verify(token, KindAccess, AudienceEndUser)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.PrincipalID())
	assert.Equal(t, KindAccess, claims.Kind)
	assert.Equal(t, alice.Email, claims.Email)
	assert.Equal(t, "Alice", claims.FirstName)
	assert.Empty(t, claims.Role, "end-user tokens carry no role")
	assert.NotEmpty(t, claims.ID)
}

func TestRefreshCarriesOnlyIdentity(t *testing.T) {
	m, _ := newTestManager(t)

	token, _, err := m.IssueRefresh(alice, AudienceEndUser)
	require.NoError(t, err)
	claims, err := m.Verify(token, KindRefresh, AudienceEndUser)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.Subject)
	assert.Empty(t, claims.Email)

	adminToken, _, err := m.IssueRefresh(root, AudienceAdmin)
	require.NoError(t, err)
	adminClaims, err := m.Verify(adminToken, KindRefresh, AudienceAdmin)
	require.NoError(t, err)
	assert.Equal(t, "super_admin", adminClaims.Role)
}

func TestBothKindsCarryCredentialVersion(t *testing.T) {
	m, _ := newTestManager(t)

	sub := alice
	sub.Version = 3
	pair, err := m.IssuePair(sub, AudienceEndUser)
	require.NoError(t, err)

	access, err := m.Verify(pair.AccessToken, KindAccess, AudienceEndUser)
	require.NoError(t, err)
	assert.Equal(t, 3, access.Version)

	refresh, err := m.Verify(pair.RefreshToken, KindRefresh, AudienceEndUser)
	require.NoError(t, err)
	assert.Equal(t, 3, refresh.Version)
}

func TestCrossKindAndAudienceRejected(t *testing.T) {
	m, _ := newTestManager(t)

	pair, err := m.IssuePair(root, AudienceAdmin)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		kind  Kind
		aud   Audience
	}{
		{"admin refresh as admin access", pair.RefreshToken, KindAccess, AudienceAdmin},
		{"admin refresh as user refresh", pair.RefreshToken, KindRefresh, AudienceEndUser},
		{"admin access as user access", pair.AccessToken, KindAccess, AudienceEndUser},
		{"admin access as admin refresh", pair.AccessToken, KindRefresh, AudienceAdmin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := m.Verify(tt.token, tt.kind, tt.aud)
			require.ErrorIs(t, err, ErrTokenInvalid)
			assert.Nil(t, claims)
		})
	}

	_, err = m.Verify(pair.RefreshToken, KindRefresh, AudienceAdmin)
	require.NoError(t, err)
}

func TestIssuePair(t *testing.T) {
	m, clock := newTestManager(t)

	pair, err := m.IssuePair(alice, AudienceEndUser)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeBearer, pair.TokenType)
	assert.Equal(t, int64(900), pair.ExpiresIn)
	assert.Equal(t, clock.now.Add(7*24*time.Hour), pair.RefreshExpiresAt)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
}

func TestExpiredAccessRejected(t *testing.T) {
	m, clock := newTestManager(t)

	token, _, err := m.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)

	clock.now = clock.now.Add(15*time.Minute + time.Second)
	claims, err := m.Verify(token, KindAccess, AudienceEndUser)
	require.ErrorIs(t, err, ErrTokenInvalid)
	assert.True(t, IsExpired(err))
	assert.Nil(t, claims)
}

func TestLeewayToleratesSmallSkew(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) { c.Leeway = 30 * time.Second })

	token, _, err := m.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)

	clock.now = clock.now.Add(15*time.Minute + 10*time.Second)
	_, err = m.Verify(token, KindAccess, AudienceEndUser)
	require.NoError(t, err)
}

func TestTamperedTokenRejected(t *testing.T) {
	m, _ := newTestManager(t)

	token, _, err := m.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	parts[2] = string(sig)

	_, err = m.Verify(strings.Join(parts, "."), KindAccess, AudienceEndUser)
	require.ErrorIs(t, err, ErrTokenInvalid)
	assert.False(t, IsExpired(err))
}

func TestForeignKeyRejected(t *testing.T) {
	m, _ := newTestManager(t)
	other, _ := newTestManager(t, func(c *Config) { c.Key = bytes.Repeat([]byte{0x11}, 64) })

	token, _, err := other.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)

	_, err = m.Verify(token, KindAccess, AudienceEndUser)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestNoneAlgorithmRejected(t *testing.T) {
	m, clock := newTestManager(t)

	claims := Claims{
		Kind: KindAccess,
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        "jti",
			Subject:   alice.ID,
			Issuer:    "tripauth-test",
			Audience:  gjwt.ClaimStrings{string(AudienceEndUser)},
			IssuedAt:  gjwt.NewNumericDate(clock.now),
			ExpiresAt: gjwt.NewNumericDate(clock.now.Add(time.Minute)),
		},
	}
	unsigned, err := gjwt.NewWithClaims(gjwt.SigningMethodNone, claims).SignedString(gjwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = m.Verify(unsigned, KindAccess, AudienceEndUser)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestWrongIssuerRejected(t *testing.T) {
	m, _ := newTestManager(t)
	other, _ := newTestManager(t, func(c *Config) { c.Issuer = "someone-else" })

	token, _, err := other.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)

	_, err = m.Verify(token, KindAccess, AudienceEndUser)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestFutureIssuedAtRejected(t *testing.T) {
	m, clock := newTestManager(t)
	future, _ := newTestManager(t)

	// Same key and issuer, clock far ahead.
	futureClock := &testClock{now: clock.now.Add(2 * time.Hour)}
	future.config.Now = futureClock.Now

	token, _, err := future.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)

	_, err = m.Verify(token, KindAccess, AudienceEndUser)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestKeyIDEnforced(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) { c.KeyID = "k1" })
	withoutKID, _ := newTestManager(t)

	token, _, err := withoutKID.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)
	_, err = m.Verify(token, KindAccess, AudienceEndUser)
	require.ErrorIs(t, err, ErrTokenInvalid)

	token, _, err = m.IssueAccess(alice, AudienceEndUser)
	require.NoError(t, err)
	_, err = m.Verify(token, KindAccess, AudienceEndUser)
	require.NoError(t, err)
}

func TestEd25519Signing(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	for name, key := range map[string][]byte{
		"seed":        priv.Seed(),
		"private key": priv,
	} {
		t.Run(name, func(t *testing.T) {
			m, _ := newTestManager(t, func(c *Config) {
				c.SigningMethod = MethodEd25519
				c.Key = key
			})

			token, _, err := m.IssueAccess(alice, AudienceEndUser)
			require.NoError(t, err)
			_, err = m.Verify(token, KindAccess, AudienceEndUser)
			require.NoError(t, err)
		})
	}
}

func TestNewManagerValidation(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"short hmac key", Config{Key: []byte("short"), Issuer: "x"}},
		{"missing issuer", Config{Key: key}},
		{"negative ttl", Config{Key: key, Issuer: "x", AccessTTL: -time.Second}},
		{"refresh shorter than access", Config{Key: key, Issuer: "x", AccessTTL: time.Hour, RefreshTTL: time.Minute}},
		{"excessive leeway", Config{Key: key, Issuer: "x", Leeway: time.Hour}},
		{"unknown method", Config{Key: key, Issuer: "x", SigningMethod: "rs512"}},
		{"bad ed25519 key", Config{Key: key[:10], Issuer: "x", SigningMethod: MethodEd25519}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			require.Error(t, err)
		})
	}
}

func TestIssueRequiresSubjectAndAudience(t *testing.T) {
	m, _ := newTestManager(t)

	_, _, err := m.IssueAccess(Subject{}, AudienceEndUser)
	require.Error(t, err)

	_, _, err = m.IssueAccess(alice, Audience("partner"))
	require.Error(t, err)

	_, err = m.Verify("x.y.z", KindAccess, Audience("partner"))
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func FuzzVerify(f *testing.F) {
	m, err := NewManager(Config{
		Key:    bytes.Repeat([]byte{0x5a}, 64),
		Issuer: "fuzz",
	})
	if err != nil {
		f.Fatal(err)
	}
	valid, _, err := m.IssueAccess(alice, AudienceEndUser)
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := m.Verify(input, KindAccess, AudienceEndUser)
		if err != nil {
			if claims != nil {
				t.Fatal("claims returned alongside error")
			}
			return
		}
		if claims == nil {
			t.Fatal("nil claims without error")
		}
	})
}
