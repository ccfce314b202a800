// Package audit relays security-relevant events from the engine to a sink
// without blocking the request path.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON lines, slog, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full
//     semantics.
//   - [Event]: structured record of one authentication outcome.
//
// # What this package must NOT do
//
//   - Decide which events to emit; the engine owns that.
//   - Carry passwords, raw tokens or decrypted secrets in any field.
//   - Import tripauth or any sibling internal package.
package audit
