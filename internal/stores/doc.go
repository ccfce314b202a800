// Package stores persists the state behind the credential lifecycle:
// principal records, single-use token records and the revocation list of
// signed-token ids.
//
// # Design
//
// Every mutation is a single atomic read-modify-write per key. File-backed
// stores serialise writers behind one mutex and publish each change with a
// temp-file-then-rename, so a crash never leaves a half-written file. Redis
// stores use WATCH/MULTI transactions with retry on contention.
//
// Durable reads are fallible: a missing file is an empty store, a file that
// fails to parse is reported as ErrCorrupt and never overwritten silently.
//
// # What this package must NOT do
//
//   - Import tripauth or any sibling internal package except fsutil.
//   - Store raw single-use token values; only their SHA-256 digests.
//   - Accept generic field maps for principal updates.
package stores
