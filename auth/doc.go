// Package auth guards the registry's HTTP surface with bearer tokens. An
// Authenticator validates a token string and returns the UserInfo of the
// caller; the HTTP layer extracts the token with BearerToken and turns
// failures into challenges with Challenge.
//
// NewFromDiscovery validates JWT access tokens whose keys are published by an
// OpenID Connect issuer; NewStatic does the same for a fixed JWKS URL.
//
// Example:
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "https://registry.example",
//	    auth.WithRequiredScopes("registry:write"),
//	)
//	if err != nil { log.Fatal(err) }
//
// # Errors
//
// ErrUnauthorized signals the token is invalid (signature, expiry, audience,
// etc.). ErrInsufficientScope signals successful authentication but missing
// required scope(s); it maps to HTTP 403.
package auth
