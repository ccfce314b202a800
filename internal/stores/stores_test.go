package stores

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func ptr[T any](v T) *T { return &v }

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return epoch }

func TestFilePrincipalStoreCreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := NewFilePrincipalStore(filepath.Join(t.TempDir(), "users.json"), fixedNow)

	require.NoError(t, s.Create(ctx, Principal{
		ID:           "u1",
		Email:        "  Alice@Example.COM ",
		PasswordHash: "$2a$12$hash",
		FirstName:    "Alice",
		IsActive:     true,
	}))

	byEmail, err := s.FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", byEmail.ID)
	assert.Equal(t, "alice@example.com", byEmail.Email)
	assert.Equal(t, epoch, byEmail.CreatedAt)

	byID, err := s.FindByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, byEmail, byID)

	_, err = s.FindByID(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilePrincipalStoreRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := NewFilePrincipalStore(filepath.Join(t.TempDir(), "users.json"), fixedNow)

	require.NoError(t, s.Create(ctx, Principal{ID: "u1", Email: "a@example.com"}))
	err := s.Create(ctx, Principal{ID: "u2", Email: "A@EXAMPLE.com"})
	require.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestFilePrincipalStoreUpdateIsAllowListed(t *testing.T) {
	ctx := context.Background()
	s := NewFilePrincipalStore(filepath.Join(t.TempDir(), "admins.json"), fixedNow)
	require.NoError(t, s.Create(ctx, Principal{ID: "a1", Email: "root@example.com", Role: "admin"}))

	login := epoch.Add(time.Hour)
	updated, err := s.Update(ctx, "a1", PrincipalUpdate{
		Role:        ptr("super_admin"),
		IsVerified:  ptr(true),
		LastLoginAt: &login,
	})
	require.NoError(t, err)
	assert.Equal(t, "super_admin", updated.Role)
	assert.True(t, updated.IsVerified)
	assert.Equal(t, "root@example.com", updated.Email)
	require.NotNil(t, updated.LastLoginAt)
	assert.Equal(t, login, *updated.LastLoginAt)

	reloaded, err := NewFilePrincipalStore(s.path, fixedNow).FindByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, updated, reloaded)

	_, err = s.Update(ctx, "nobody", PrincipalUpdate{IsActive: ptr(false)})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFilePrincipalStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s := NewFilePrincipalStore(path, fixedNow)
	_, err := s.FindByEmail(context.Background(), "a@example.com")
	require.ErrorIs(t, err, ErrCorrupt)

	err = s.Create(context.Background(), Principal{ID: "u1", Email: "a@example.com"})
	require.ErrorIs(t, err, ErrCorrupt)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestFilePrincipalStoreConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	s := NewFilePrincipalStore(filepath.Join(t.TempDir(), "users.json"), fixedNow)

	const workers = 20
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Create(ctx, Principal{ID: string(rune('a' + i)), Email: "same@example.com"})
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		require.ErrorIs(t, err, ErrDuplicateEmail)
	}
	assert.Equal(t, 1, created)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func tokenStores(t *testing.T) map[string]TokenStore {
	t.Helper()

	_, rdb := newTestRedis(t)
	return map[string]TokenStore{
		"file":  NewFileTokenStore(filepath.Join(t.TempDir(), "tokens.json")),
		"redis": NewRedisTokenStore(rdb, "test"),
	}
}

func record(hash, purpose string, ttl time.Duration) TokenRecord {
	return TokenRecord{
		Hash:        hash,
		PrincipalID: "u1",
		Audience:    "end-user",
		Purpose:     purpose,
		ExpiresAt:   epoch.Add(ttl),
	}
}

func TestTokenStoreConsumeOnce(t *testing.T) {
	ctx := context.Background()
	for name, s := range tokenStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := record(HashToken("tok-1"), PurposeVerifyEmail, 24*time.Hour)
			require.NoError(t, s.Replace(ctx, rec, epoch))

			got, err := s.Consume(ctx, rec.Hash, "end-user", PurposeVerifyEmail, epoch.Add(time.Minute))
			require.NoError(t, err)
			assert.Equal(t, rec.PrincipalID, got.PrincipalID)
			assert.Equal(t, rec.Audience, got.Audience)
			assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))

			_, err = s.Consume(ctx, rec.Hash, "end-user", PurposeVerifyEmail, epoch.Add(time.Minute))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTokenStoreReplaceInvalidatesPrevious(t *testing.T) {
	ctx := context.Background()
	for name, s := range tokenStores(t) {
		t.Run(name, func(t *testing.T) {
			first := record(HashToken("first"), PurposeResetPassword, time.Hour)
			second := record(HashToken("second"), PurposeResetPassword, time.Hour)
			other := record(HashToken("verify"), PurposeVerifyEmail, time.Hour)

			require.NoError(t, s.Replace(ctx, first, epoch))
			require.NoError(t, s.Replace(ctx, other, epoch))
			require.NoError(t, s.Replace(ctx, second, epoch))

			_, err := s.Consume(ctx, first.Hash, "end-user", PurposeResetPassword, epoch)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.Consume(ctx, second.Hash, "end-user", PurposeResetPassword, epoch)
			require.NoError(t, err)

			_, err = s.Consume(ctx, other.Hash, "end-user", PurposeVerifyEmail, epoch)
			require.NoError(t, err, "other purposes are independent")
		})
	}
}

func TestTokenStoreMismatchLeavesRecord(t *testing.T) {
	ctx := context.Background()
	for name, s := range tokenStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := record(HashToken("reset"), PurposeResetPassword, time.Hour)
			require.NoError(t, s.Replace(ctx, rec, epoch))

			_, err := s.Consume(ctx, rec.Hash, "end-user", PurposeVerifyEmail, epoch)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.Consume(ctx, rec.Hash, "admin", PurposeResetPassword, epoch)
			require.ErrorIs(t, err, ErrNotFound)

			_, err = s.Consume(ctx, rec.Hash, "end-user", PurposeResetPassword, epoch)
			require.NoError(t, err)
		})
	}
}

func TestTokenStoreExpiredRecordRejected(t *testing.T) {
	ctx := context.Background()
	for name, s := range tokenStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := record(HashToken("old"), PurposeResetPassword, time.Hour)
			require.NoError(t, s.Replace(ctx, rec, epoch))

			_, err := s.Consume(ctx, rec.Hash, "end-user", PurposeResetPassword, epoch.Add(time.Hour))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTokenStoreDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range tokenStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := record(HashToken("doomed"), PurposeResetPassword, time.Hour)
			require.NoError(t, s.Replace(ctx, rec, epoch))
			require.NoError(t, s.Delete(ctx, rec.Audience, rec.PrincipalID, rec.Purpose))
			require.NoError(t, s.Delete(ctx, rec.Audience, rec.PrincipalID, rec.Purpose))

			_, err := s.Consume(ctx, rec.Hash, "end-user", PurposeResetPassword, epoch)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestTokenStoreConcurrentConsume(t *testing.T) {
	ctx := context.Background()
	for name, s := range tokenStores(t) {
		t.Run(name, func(t *testing.T) {
			rec := record(HashToken("race"), PurposeResetPassword, time.Hour)
			require.NoError(t, s.Replace(ctx, rec, epoch))

			const workers = 16
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, err := s.Consume(ctx, rec.Hash, "end-user", PurposeResetPassword, epoch); err == nil {
						mu.Lock()
						successes++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, successes)
		})
	}
}

func TestRedisTokenRecordExpiresWithTTL(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewRedisTokenStore(rdb, "test")
	ctx := context.Background()

	rec := record(HashToken("ttl"), PurposeVerifyEmail, time.Hour)
	require.NoError(t, s.Replace(ctx, rec, epoch))
	assert.Equal(t, time.Hour, mr.TTL("test:t:"+rec.Hash))

	mr.FastForward(time.Hour + time.Second)
	_, err := s.Consume(ctx, rec.Hash, "end-user", PurposeVerifyEmail, epoch)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileTokenStoreNeverStoresRawValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewFileTokenStore(path)

	rec := record(HashToken("raw-secret-value"), PurposeVerifyEmail, time.Hour)
	require.NoError(t, s.Replace(context.Background(), rec, epoch))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "raw-secret-value")
	assert.Contains(t, string(data), rec.Hash)
}

func TestRevocationStores(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)

	for name, s := range map[string]RevocationStore{
		"memory": NewMemoryRevocationStore(fixedNow),
		"redis":  NewRedisRevocationStore(rdb, "test:rv", fixedNow),
	} {
		t.Run(name, func(t *testing.T) {
			revoked, err := s.IsRevoked(ctx, "jti-1")
			require.NoError(t, err)
			assert.False(t, revoked)

			first, err := s.Revoke(ctx, "jti-1", epoch.Add(time.Hour))
			require.NoError(t, err)
			assert.True(t, first)

			first, err = s.Revoke(ctx, "jti-1", epoch.Add(time.Hour))
			require.NoError(t, err)
			assert.False(t, first, "second revoke of a live id")

			first, err = s.Revoke(ctx, "jti-old", epoch.Add(-time.Hour))
			require.NoError(t, err)
			assert.False(t, first)

			revoked, err = s.IsRevoked(ctx, "jti-1")
			require.NoError(t, err)
			assert.True(t, revoked)

			revoked, err = s.IsRevoked(ctx, "jti-old")
			require.NoError(t, err)
			assert.False(t, revoked, "already-expired tokens need no entry")
		})
	}
}

func TestMemoryRevocationStorePurges(t *testing.T) {
	now := epoch
	s := NewMemoryRevocationStore(func() time.Time { return now })
	ctx := context.Background()

	_, err := s.Revoke(ctx, "a", epoch.Add(time.Minute))
	require.NoError(t, err)
	now = epoch.Add(2 * time.Minute)
	_, err = s.Revoke(ctx, "b", now.Add(time.Minute))
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.revoked, 1)
}

func TestTokenRecordCodec(t *testing.T) {
	rec := TokenRecord{
		Hash:        HashToken("x"),
		PrincipalID: "6f1c1d1e-0000-4000-8000-000000000001",
		Audience:    "admin",
		Purpose:     PurposeResetPassword,
		ExpiresAt:   epoch,
	}
	data, err := encodeTokenRecord(rec)
	require.NoError(t, err)

	got, err := decodeTokenRecord(data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = decodeTokenRecord([]byte{9})
	require.Error(t, err)
}
