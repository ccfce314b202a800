// Package rate implements the fixed-window attempt limiter used to gate
// login endpoints.
//
// # Window semantics
//
// The first attempt for a key opens a window of length Window. Attempts
// 1..MaxAttempts inside the window are allowed; once the counter has reached
// MaxAttempts every further check is rejected until the window elapses.
// Reset deletes the bucket, so a successful login forgives earlier failures.
//
// Two backends share the Limiter interface: an in-process map guarded by a
// mutex, and a Redis backend that performs the read-modify-write in one Lua
// script. Both apply a single atomic update per key.
//
// # What this package must NOT do
//
//   - Decide which key to use (client address, e-mail). Callers own that.
//   - Be imported outside the tripauth module.
package rate
