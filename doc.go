// Package tripauth authenticates the end-users and administrators of a
// travel-booking storefront and manages every credential they hold: signed
// access and refresh tokens, single-use e-mail verification and password
// reset tokens, per-source login throttling and password hashes.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// tripauth is the public surface. It exposes [Engine], [Builder], [Config],
// value types ([PrincipalView], [TokenPair], [Identity]) and the error
// taxonomy. Stores, the single-use token ledger, rate limiters and audit
// dispatch live under internal/ and are never exported.
//
// # Audiences
//
// Every flow takes an [Audience]. End-user and administrator principals live
// in separate stores, and tokens minted for one audience never verify for
// the other. Access and refresh tokens carry a kind claim and are likewise
// not interchangeable.
//
// # Errors
//
// Callers only ever see the sentinels in errors.go. Login failures collapse
// into [ErrInvalidCredentials]; token failures of any kind collapse into
// [ErrTokenExpiredOrInvalid]. The underlying cause is logged server-side.
package tripauth
