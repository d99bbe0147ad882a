// Package jwtauth validates JWT bearer tokens against an issuer's JWKS, found
// either through OpenID Connect discovery or configured directly.
package jwtauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	keyfunc "github.com/MicahParks/keyfunc/v3"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized indicates that the access token failed validation (e.g.,
// signature, issuer, audience, exp/nbf) and the request should be treated as
// unauthenticated.
var ErrUnauthorized = errors.New("jwtauth: unauthorized")

// ErrInsufficientScope indicates the token was valid but did not satisfy the
// required scopes policy; callers should respond with HTTP 403 where relevant.
var ErrInsufficientScope = errors.New("jwtauth: insufficient_scope")

// Config controls validation behavior for access tokens.
type Config struct {
	Issuer string
	// ExpectedAudiences lists every accepted "aud" value; one must match.
	ExpectedAudiences []string
	RequiredScopes    []string
	ScopeModeAny      bool // if true, any of RequiredScopes is sufficient; else all are required
	AllowedAlgs       []string
	Leeway            time.Duration
	// RequireAccessTokenType enforces the RFC 9068 "at+jwt" typ header.
	RequireAccessTokenType bool
}

// DefaultConfig returns a Config with safe defaults for algorithm and leeway.
func DefaultConfig() *Config {
	return &Config{
		AllowedAlgs: []string{"RS256"},
		Leeway:      60 * time.Second,
	}
}

func (c *Config) validate() error {
	if c == nil {
		return errors.New("config is required")
	}
	if c.Issuer == "" {
		return errors.New("issuer is required")
	}
	if len(c.ExpectedAudiences) == 0 {
		return errors.New("at least one expected audience required")
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{"RS256"}
	}
	if slices.Contains(c.AllowedAlgs, "none") {
		return errors.New(`alg "none" is never allowed`)
	}
	return nil
}

// UserInfo carries the subject and claims of a validated token.
type UserInfo interface {
	UserID() string
	Scopes() []string
	Claims(ref any) error
}

type userInfo struct {
	sub    string
	scopes []string
	claims map[string]any
}

func (u *userInfo) UserID() string   { return u.sub }
func (u *userInfo) Scopes() []string { return append([]string(nil), u.scopes...) }
func (u *userInfo) Claims(ref any) error {
	b, err := json.Marshal(u.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}

// Authenticator validates access tokens and returns the token's UserInfo.
// Implementations perform signature, issuer, audience, time and scope checks.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (UserInfo, error)
}

type authenticator struct {
	cfg     Config
	issuer  string
	keyfunc jwt.Keyfunc
}

var _ Authenticator = (*authenticator)(nil)

// NewFromDiscovery performs OIDC discovery to obtain jwks_uri and issuer and
// builds an Authenticator over the auto-refreshed key set.
func NewFromDiscovery(ctx context.Context, cfg *Config) (Authenticator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery failed: %w", err)
	}
	var meta struct {
		Issuer  string `json:"issuer"`
		JwksURI string `json:"jwks_uri"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("invalid discovery metadata: %w", err)
	}
	if meta.JwksURI == "" {
		return nil, errors.New("discovery incomplete: missing jwks_uri")
	}
	return newAuthenticator(ctx, *cfg, meta.Issuer, meta.JwksURI)
}

// NewStatic builds an Authenticator for a known issuer and JWKS URI without
// discovery.
func NewStatic(ctx context.Context, cfg *Config, jwksURI string) (Authenticator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if jwksURI == "" {
		return nil, errors.New("jwks uri required")
	}
	return newAuthenticator(ctx, *cfg, cfg.Issuer, jwksURI)
}

func newAuthenticator(ctx context.Context, cfg Config, issuer, jwksURI string) (*authenticator, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURI})
	if err != nil {
		return nil, fmt.Errorf("jwks init failed: %w", err)
	}
	return &authenticator{
		cfg:    cfg,
		issuer: issuer,
		keyfunc: func(t *jwt.Token) (any, error) {
			if alg := t.Method.Alg(); !slices.Contains(cfg.AllowedAlgs, alg) {
				return nil, fmt.Errorf("disallowed alg: %s", alg)
			}
			return kf.Keyfunc(t)
		},
	}, nil
}

func (a *authenticator) CheckAuthentication(ctx context.Context, tok string) (UserInfo, error) {
	if tok == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnauthorized)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods(a.cfg.AllowedAlgs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(a.issuer),
		jwt.WithLeeway(a.cfg.Leeway),
		jwt.WithIssuedAt(),
	)
	parsed, err := parser.Parse(tok, a.keyfunc)
	if err != nil {
		return nil, fmt.Errorf("%w: token parse/verify failed: %v", ErrUnauthorized, err)
	}

	if a.cfg.RequireAccessTokenType {
		if typ, _ := parsed.Header["typ"].(string); typ != "at+jwt" && typ != "application/at+jwt" {
			return nil, fmt.Errorf("%w: invalid typ; want at+jwt", ErrUnauthorized)
		}
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", ErrUnauthorized)
	}
	aud, err := claims.GetAudience()
	if err != nil || !slices.ContainsFunc(aud, func(s string) bool { return slices.Contains(a.cfg.ExpectedAudiences, s) }) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrUnauthorized)
	}

	scopeStr, _ := claims["scope"].(string)
	scopes := strings.Fields(scopeStr)
	if !scopesSatisfied(scopes, a.cfg.RequiredScopes, a.cfg.ScopeModeAny) {
		return nil, fmt.Errorf("%w: need %s", ErrInsufficientScope, strings.Join(a.cfg.RequiredScopes, " "))
	}

	return &userInfo{sub: sub, scopes: scopes, claims: claims}, nil
}

func scopesSatisfied(have, required []string, anyOf bool) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		found := slices.Contains(have, want)
		if anyOf && found {
			return true
		}
		if !anyOf && !found {
			return false
		}
	}
	return !anyOf
}
