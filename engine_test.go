package tripauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/tripauth/internal/audit"
	"github.com/MrEthical07/tripauth/notify"
	"github.com/MrEthical07/tripauth/password"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureNotifier struct {
	mu            sync.Mutex
	verifications []notify.Message
	resets        []notify.Message
	err           error
}

func (n *captureNotifier) SendVerification(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifications = append(n.verifications, msg)
	return n.err
}

func (n *captureNotifier) SendPasswordReset(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets = append(n.resets, msg)
	return n.err
}

func (n *captureNotifier) lastVerification(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.verifications, "no verification message sent")
	return n.verifications[len(n.verifications)-1].Token
}

func (n *captureNotifier) lastReset(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.resets, "no reset message sent")
	return n.resets[len(n.resets)-1].Token
}

func (n *captureNotifier) resetCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.resets)
}

type testEngine struct {
	*Engine
	clock    *testClock
	notifier *captureNotifier
	registry *prometheus.Registry
	cfg      Config
}

// testConfig keeps hashing cheap: argon2id at its minimum accepted cost.
func testConfig(t *testing.T) Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Password.Algorithm = "argon2id"
	cfg.Password.Argon2 = password.Argon2Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.KeyDir = t.TempDir()
	return cfg
}

func newTestEngine(t *testing.T, mutate ...func(*Config, *Builder)) *testEngine {
	t.Helper()

	te := &testEngine{
		clock:    &testClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
		notifier: &captureNotifier{},
		registry: prometheus.NewRegistry(),
		cfg:      testConfig(t),
	}

	b := New().
		WithClock(te.clock.Now).
		WithNotifier(te.notifier).
		WithAuditSink(audit.NoOpSink{}).
		WithMetricsRegistry(te.registry)
	for _, fn := range mutate {
		fn(&te.cfg, b)
	}

	engine, err := b.WithConfig(te.cfg).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	te.Engine = engine
	return te
}

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "Passw0rd!"
)

func (te *testEngine) registerAlice(t *testing.T) *AuthResult {
	t.Helper()

	res, err := te.Register(context.Background(), RegisterInput{
		Email:     aliceEmail,
		Password:  alicePassword,
		FirstName: "Alice",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	return res
}

func (te *testEngine) createRoot(t *testing.T) *PrincipalView {
	t.Helper()

	view, err := te.CreateAdmin(context.Background(), CreateAdminInput{
		Email:    "root@example.com",
		Password: "correct-horse-battery",
		Role:     RoleSuperAdmin,
	})
	require.NoError(t, err)
	return view
}
