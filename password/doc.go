// Package password implements one-way adaptive password hashing.
//
// Two algorithms are supported:
//
//	$2b$12$<salt+hash>                                  bcrypt (default, cost 12)
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Multi] hashes with a primary [Hasher] and verifies any known format, so a
// deployment can move between algorithms or work factors: [Multi.NeedsUpgrade]
// reports hashes that should be re-derived on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (minimum
// length) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other tripauth package.
//   - Log plaintext passwords.
//   - Compare derived hashes with early-exit byte comparison.
package password
