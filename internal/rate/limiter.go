package rate

import (
	"context"
	"time"
)

// Config is the policy for one limiter instance.
type Config struct {
	Window      time.Duration
	MaxAttempts int
}

// Validate reports whether cfg describes a usable policy.
func (c Config) Validate() error {
	if c.Window <= 0 || c.MaxAttempts <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Decision is the outcome of a CheckAndRecord call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	// Attempts is the counter value after this call.
	Attempts int
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, at
// least 1 for a rejected decision.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter records attempts per key and reports whether the caller may
// proceed.
type Limiter interface {
	// CheckAndRecord atomically counts one attempt for key.
	CheckAndRecord(ctx context.Context, key string) (Decision, error)
	// Reset forgets every attempt recorded for key.
	Reset(ctx context.Context, key string) error
}

func decide(count int64, remaining time.Duration, cfg Config) Decision {
	if count > int64(cfg.MaxAttempts) {
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		return Decision{Allowed: false, RetryAfter: remaining, Attempts: int(count)}
	}
	return Decision{Allowed: true, Attempts: int(count)}
}
