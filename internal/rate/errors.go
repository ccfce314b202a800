package rate

import "errors"

var (
	// ErrRedisUnavailable wraps failures of the Redis backend.
	ErrRedisUnavailable = errors.New("rate limiter redis unavailable")
	// ErrInvalidConfig is returned for non-positive windows or attempt counts.
	ErrInvalidConfig = errors.New("invalid rate limit configuration")
)
