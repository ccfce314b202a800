package keystore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateGeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "master.key")
	ctx := context.Background()

	key, err := New(path, MasterKeySize).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Len(t, key, MasterKeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := New(path, MasterKeySize).GetOrCreate(ctx)
	require.NoError(t, err)
	assert.Equal(t, key, again, "a fresh store must load the persisted key")
}

func TestGetOrCreateReturnsCopies(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "signing.key"), SigningKeySize)

	first, err := store.GetOrCreate(context.Background())
	require.NoError(t, err)
	first[0] ^= 0xff

	second, err := store.GetOrCreate(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first[0], second[0])
}

func TestConcurrentFirstUseSettlesOnOneKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")

	const workers = 16
	keys := make([][]byte, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			// Separate Store values model separate processes racing on
			// the same file.
			keys[i], errs[i] = New(path, MasterKeySize).GetOrCreate(context.Background())
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i])
	}
}

func TestCorruptKeyFileFailsInsteadOfRegenerating(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.key")
	require.NoError(t, os.WriteFile(path, []byte("not-hex"), 0o600))

	_, err := New(path, MasterKeySize).GetOrCreate(context.Background())
	require.ErrorIs(t, err, ErrCorruptKey)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "not-hex", string(data), "corrupt file must be left for the operator")
}

func TestWrongLengthKeyIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.key")
	require.NoError(t, os.WriteFile(path, []byte("abcd\n"), 0o600))

	_, err := New(path, SigningKeySize).GetOrCreate(context.Background())
	require.ErrorIs(t, err, ErrCorruptKey)
}

func TestUnwritableLocationFailsFast(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := New(filepath.Join(blocker, "master.key"), MasterKeySize).GetOrCreate(context.Background())
	require.Error(t, err)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(filepath.Join(t.TempDir(), "master.key"), MasterKeySize).GetOrCreate(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFingerprintIsStable(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	assert.Equal(t, Fingerprint(key), Fingerprint(key))
	assert.Len(t, Fingerprint(key), 16)
	assert.NotEqual(t, Fingerprint(key), Fingerprint([]byte("other")))
}
