package stores

import "errors"

var (
	// ErrNotFound is returned for unknown principals and for token records
	// that are absent, expired or issued for another purpose.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail is returned by Create when the e-mail is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrCorrupt is returned when a durable file exists but cannot be parsed.
	ErrCorrupt = errors.New("store file is corrupt")
	// ErrRedisUnavailable wraps failures of the Redis backends.
	ErrRedisUnavailable = errors.New("store redis unavailable")
	// ErrConflict is returned when an optimistic transaction keeps losing.
	ErrConflict = errors.New("store write conflict")
)
