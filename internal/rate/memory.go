package rate

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count       int64
	windowStart time.Time
}

// MemoryLimiter keeps buckets in process memory.
type MemoryLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemory creates an in-process limiter. A nil now uses time.Now.
func NewMemory(cfg Config, now func() time.Time) (*MemoryLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryLimiter{
		config:  cfg,
		now:     now,
		buckets: make(map[string]*bucket),
	}, nil
}

// CheckAndRecord implements Limiter.
func (l *MemoryLimiter) CheckAndRecord(ctx context.Context, key string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.purgeLocked(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}
	b.count++

	remaining := b.windowStart.Add(l.config.Window).Sub(now)
	return decide(b.count, remaining, l.config), nil
}

// Reset implements Limiter.
func (l *MemoryLimiter) Reset(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
	return nil
}

// Len returns the number of live buckets.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *MemoryLimiter) purgeLocked(now time.Time) {
	for key, b := range l.buckets {
		if !now.Before(b.windowStart.Add(l.config.Window)) {
			delete(l.buckets, key)
		}
	}
}
