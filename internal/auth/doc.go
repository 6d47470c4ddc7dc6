// Package auth issues and verifies the bearer tokens that guard the HTTP
// API.
//
// Tokens are HS256-signed JWTs carrying a subject and a list of scopes.
// "read" grants telemetry, journal and metrics access; "control" grants
// device commands. Verification is signature and expiry only, with no
// database lookup, so a token stays valid until it expires.
package auth
