// Package jwt issues and verifies the signed access and refresh tokens of
// both principal audiences.
//
// One signing key serves every token. The kind (access or refresh) and the
// audience (end-user or admin) are embedded in every claim set and checked on
// every Verify call, so a refresh token never passes as an access token and a
// user token never passes on an admin route.
package jwt
