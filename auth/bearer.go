package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// BearerToken extracts the token from an "Authorization: Bearer" header. It
// returns ErrUnauthorized when the header is missing or malformed.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", fmt.Errorf("%w: missing Authorization header", ErrUnauthorized)
	}
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tok) == "" {
		return "", fmt.Errorf("%w: malformed Authorization header", ErrUnauthorized)
	}
	return strings.TrimSpace(tok), nil
}

// Challenge returns the HTTP status and WWW-Authenticate value for an
// authentication failure.
func Challenge(realm string, err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, ErrInsufficientScope):
		return http.StatusForbidden, fmt.Sprintf(`Bearer realm=%q, error="insufficient_scope"`, realm)
	default:
		return http.StatusUnauthorized, fmt.Sprintf(`Bearer realm=%q, error="invalid_token"`, realm)
	}
}
