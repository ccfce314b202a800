// Package secret provides authenticated symmetric encryption for values that
// must be stored at rest: third-party API keys, payment secrets and mail
// credentials.
//
// # Envelope format
//
// An encrypted value is a single string made of three hex-encoded parts
// joined by ':': the 12-byte GCM nonce, the 16-byte authentication tag and
// the ciphertext:
//
//	<nonce hex>:<tag hex>:<ciphertext hex>
//
// The format survives plain JSON/YAML storage unchanged.
//
// # What this package must NOT do
//
//   - Return a plaintext when the authentication tag does not verify.
//   - Treat a value that is not in envelope shape as corrupt: such values are
//     legacy plaintext and are handed back unchanged.
//   - Log or format plaintext values.
package secret
