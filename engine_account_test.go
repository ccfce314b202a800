package tripauth

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)

	_, err := te.Register(context.Background(), RegisterInput{
		Email:    "Alice@Example.com",
		Password: "another-password",
	})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegisterValidation(t *testing.T) {
	te := newTestEngine(t)

	tests := []struct {
		name string
		in   RegisterInput
		want error
	}{
		{"missing email", RegisterInput{Password: alicePassword}, ErrInvalidInput},
		{"malformed email", RegisterInput{Email: "alice@", Password: alicePassword}, ErrInvalidInput},
		{"display form email", RegisterInput{Email: "Alice <alice@example.com>", Password: alicePassword}, ErrInvalidInput},
		{"long name", RegisterInput{Email: aliceEmail, Password: alicePassword, FirstName: strings.Repeat("a", 101)}, ErrInvalidInput},
		{"short password", RegisterInput{Email: aliceEmail, Password: "short"}, ErrPasswordPolicy},
		{"long password", RegisterInput{Email: aliceEmail, Password: strings.Repeat("p", 73)}, ErrPasswordPolicy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := te.Register(context.Background(), tt.in)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRegisterSurvivesNotifierFailure(t *testing.T) {
	te := newTestEngine(t)
	te.notifier.err = assert.AnError

	res := te.registerAlice(t)
	assert.NotEmpty(t, res.Tokens.AccessToken)
}

func TestResendVerification(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	reg := te.registerAlice(t)
	first := te.notifier.lastVerification(t)

	require.NoError(t, te.ResendVerification(ctx, reg.Principal.ID))
	second := te.notifier.lastVerification(t)
	require.NotEqual(t, first, second)

	_, err := te.VerifyEmail(ctx, first)
	require.ErrorIs(t, err, ErrTokenExpiredOrInvalid, "re-issue invalidates the earlier token")

	_, err = te.VerifyEmail(ctx, second)
	require.NoError(t, err)

	require.ErrorIs(t, te.ResendVerification(ctx, reg.Principal.ID), ErrAlreadyVerified)
}

func TestResendVerificationThrottled(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	id := te.registerAlice(t).Principal.ID

	for i := 0; i < 5; i++ {
		require.NoError(t, te.ResendVerification(ctx, id), "resend %d", i+1)
	}
	require.ErrorIs(t, te.ResendVerification(ctx, id), ErrRateLimited)

	te.clock.Advance(time.Hour)
	require.NoError(t, te.ResendVerification(ctx, id))
}

func TestVerifyEmailThrottledPerSource(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	token := te.notifier.lastVerification(t)
	ctx := WithClientIP(context.Background(), "203.0.113.30")

	for i := 0; i < 5; i++ {
		_, err := te.VerifyEmail(ctx, "not-a-real-token")
		require.ErrorIs(t, err, ErrTokenExpiredOrInvalid)
	}
	_, err := te.VerifyEmail(ctx, token)
	require.ErrorIs(t, err, ErrRateLimited)

	view, err := te.VerifyEmail(WithClientIP(context.Background(), "198.51.100.30"), token)
	require.NoError(t, err)
	assert.True(t, view.IsVerified)
}

func TestVerificationTokenExpires(t *testing.T) {
	te := newTestEngine(t)
	te.registerAlice(t)
	token := te.notifier.lastVerification(t)

	te.clock.Advance(24*time.Hour + time.Second)
	_, err := te.VerifyEmail(context.Background(), token)
	require.ErrorIs(t, err, ErrTokenExpiredOrInvalid)
}

func TestCreateAdmin(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()

	view := te.createRoot(t)
	assert.Equal(t, RoleSuperAdmin, view.Role)
	assert.True(t, view.IsVerified)
	assert.Equal(t, AudienceAdmin, view.Audience)

	plain, err := te.CreateAdmin(ctx, CreateAdminInput{Email: "ops@example.com", Password: "ops-password-1"})
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, plain.Role)

	_, err = te.CreateAdmin(ctx, CreateAdminInput{Email: "x@example.com", Password: "ops-password-1", Role: "owner"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = te.CreateAdmin(ctx, CreateAdminInput{Email: "ROOT@example.com", Password: "ops-password-1"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestUpdateProfileAndMe(t *testing.T) {
	te := newTestEngine(t)
	ctx := context.Background()
	reg := te.registerAlice(t)

	first := "  Alicia "
	view, err := te.UpdateProfile(ctx, AudienceEndUser, reg.Principal.ID, ProfileUpdate{FirstName: &first})
	require.NoError(t, err)
	assert.Equal(t, "Alicia", view.FirstName)
	assert.Equal(t, "Doe", view.LastName)
	assert.Equal(t, "Alicia Doe", view.DisplayName())

	me, err := te.Me(ctx, AudienceEndUser, reg.Principal.ID)
	require.NoError(t, err)
	assert.Equal(t, view.FirstName, me.FirstName)

	data, err := json.Marshal(me)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "password")
	assert.NotContains(t, string(data), "$argon2id$")

	_, err = te.Me(ctx, AudienceEndUser, "missing")
	require.ErrorIs(t, err, ErrTokenExpiredOrInvalid)
}

func TestSetActiveUnknownPrincipal(t *testing.T) {
	te := newTestEngine(t)
	require.ErrorIs(t, te.SetActive(context.Background(), AudienceAdmin, "missing", false), ErrInvalidInput)
}

func TestNilEngine(t *testing.T) {
	var e *Engine
	_, err := e.Login(context.Background(), AudienceEndUser, aliceEmail, alicePassword)
	require.ErrorIs(t, err, ErrEngineNotReady)
	require.NotPanics(t, e.Close)
}

func TestUnknownAudience(t *testing.T) {
	te := newTestEngine(t)
	_, err := te.Login(context.Background(), Audience("partner"), aliceEmail, alicePassword)
	require.ErrorIs(t, err, ErrInvalidInput)
}
