package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/tripauth/internal/stores"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestLedger(t *testing.T) (*Ledger, *clock) {
	t.Helper()

	c := &clock{now: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	store := stores.NewFileTokenStore(filepath.Join(t.TempDir(), "tokens.json"))
	return New(store, c.Now), c
}

func TestIssueConsumeOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	token, err := l.Issue(ctx, "end-user", "u1", stores.PurposeVerifyEmail, 24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, token, 43)

	rec, err := l.Consume(ctx, token, "end-user", stores.PurposeVerifyEmail)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.PrincipalID)
	assert.Equal(t, "end-user", rec.Audience)

	_, err = l.Consume(ctx, token, "end-user", stores.PurposeVerifyEmail)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReissueInvalidatesPrevious(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	old, err := l.Issue(ctx, "end-user", "u1", stores.PurposeVerifyEmail, 24*time.Hour)
	require.NoError(t, err)
	fresh, err := l.Issue(ctx, "end-user", "u1", stores.PurposeVerifyEmail, 24*time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	_, err = l.Consume(ctx, old, "end-user", stores.PurposeVerifyEmail)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = l.Consume(ctx, fresh, "end-user", stores.PurposeVerifyEmail)
	require.NoError(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	l, c := newTestLedger(t)
	ctx := context.Background()

	token, err := l.Issue(ctx, "admin", "a1", stores.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	c.now = c.now.Add(time.Hour + time.Second)
	_, err = l.Consume(ctx, token, "admin", stores.PurposeResetPassword)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMismatchedTokenRejectedButKept(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	token, err := l.Issue(ctx, "end-user", "u1", stores.PurposeResetPassword, time.Hour)
	require.NoError(t, err)

	_, err = l.Consume(ctx, token, "end-user", stores.PurposeVerifyEmail)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = l.Consume(ctx, token, "admin", stores.PurposeResetPassword)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = l.Consume(ctx, token, "end-user", stores.PurposeResetPassword)
	require.NoError(t, err)
}

func TestRevoke(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	token, err := l.Issue(ctx, "end-user", "u1", stores.PurposeResetPassword, time.Hour)
	require.NoError(t, err)
	require.NoError(t, l.Revoke(ctx, "end-user", "u1", stores.PurposeResetPassword))

	_, err = l.Consume(ctx, token, "end-user", stores.PurposeResetPassword)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGarbageTokensRejected(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for _, token := range []string{"", "   ", "not-a-token", string(make([]byte, 1024))} {
		_, err := l.Consume(ctx, token, "end-user", stores.PurposeResetPassword)
		require.ErrorIs(t, err, ErrNotFound)
	}
}

func TestIssueValidation(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Issue(context.Background(), "end-user", "", stores.PurposeVerifyEmail, time.Hour)
	require.Error(t, err)
	_, err = l.Issue(context.Background(), "end-user", "u1", stores.PurposeVerifyEmail, 0)
	require.Error(t, err)
}

type failingStore struct{}

func (failingStore) Replace(context.Context, stores.TokenRecord, time.Time) error {
	return errors.New("disk full")
}

func (failingStore) Consume(context.Context, string, string, string, time.Time) (stores.TokenRecord, error) {
	return stores.TokenRecord{}, errors.New("disk gone")
}

func (failingStore) Delete(context.Context, string, string, string) error {
	return errors.New("disk gone")
}

func TestStoreFailuresAreNotNotFound(t *testing.T) {
	l := New(failingStore{}, nil)
	ctx := context.Background()

	_, err := l.Issue(ctx, "end-user", "u1", stores.PurposeVerifyEmail, time.Hour)
	require.Error(t, err)

	_, err = l.Consume(ctx, "token", "end-user", stores.PurposeVerifyEmail)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	require.Error(t, l.Revoke(ctx, "end-user", "u1", stores.PurposeVerifyEmail))
}
