// Package authtest provides an in-memory Authenticator for tests.
package authtest

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ggoodman/session-sharing-go/auth"
)

// Tokens maps opaque bearer tokens to principals.
type Tokens struct {
	mu       sync.RWMutex
	users    map[string]*User
	required []string
}

var _ auth.Authenticator = (*Tokens)(nil)

// NewTokens returns an authenticator that requires every scope in required.
func NewTokens(required ...string) *Tokens {
	return &Tokens{users: make(map[string]*User), required: required}
}

// Issue registers tok for userID with the given space-separated scopes.
func (t *Tokens) Issue(tok, userID, scope string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.users[tok] = &User{ID: userID, Scope: scope}
}

func (t *Tokens) CheckAuthentication(ctx context.Context, tok string) (auth.UserInfo, error) {
	t.mu.RLock()
	u, ok := t.users[tok]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown token", auth.ErrUnauthorized)
	}
	have := strings.Fields(u.Scope)
	for _, want := range t.required {
		if !slices.Contains(have, want) {
			return nil, fmt.Errorf("%w: missing %s", auth.ErrInsufficientScope, want)
		}
	}
	return u, nil
}

// User is a test principal.
type User struct {
	ID    string `json:"sub"`
	Scope string `json:"scope"`
}

func (u *User) UserID() string { return u.ID }

func (u *User) Claims(ref any) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
