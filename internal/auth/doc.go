// Package auth authenticates callers of the relay's HTTP announcement endpoint.
//
// # Tokens
//
// Callers present an HS256 JWT signed with auth.jwt_secret:
//
//	Authorization: Bearer <token>
//
// The "sub" claim names the caller and is logged with each announcement.
// Tokens are minted with `coven-relay token --name NAME`.
//
// # Middleware
//
//	RequireBearer(verifier, logger) // rejects requests without a valid token
//
// When no secret is configured the verifier is nil and the middleware passes
// every request through.
package auth
