// Package wellknown holds documents served under /.well-known/.
package wellknown

import (
	"fmt"
	"net/url"
	"strings"
)

// ProtectedResourcePath is where OAuth 2.0 protected resource metadata
// (RFC 9728) is served.
const ProtectedResourcePath = "/.well-known/oauth-protected-resource"

// ProtectedResourceMetadata tells a client which authorization servers issue
// tokens for a resource and which scopes it understands.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// ProtectedResourceURL returns the metadata URL for the resource at base.
// The metadata lives at the host root with the resource path appended.
func ProtectedResourceURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid resource URL %q", base)
	}
	return (&url.URL{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   ProtectedResourcePath + strings.TrimSuffix(u.Path, "/"),
	}).String(), nil
}
