// Package middleware exposes net/http adapters that put tripauth.Engine in
// front of protected routes.
//
// # Guards
//
//   - [Guard] verifies the bearer access token for one audience and stores
//     the resulting [tripauth.Identity] in the request context.
//   - [RequireRole] restricts a guarded route to administrator roles.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// parse tokens or touch stores; every decision is delegated to
// Engine.Authenticate.
package middleware
