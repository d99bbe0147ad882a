package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	// ErrServiceNotFound is returned by Resolve when no registration matches.
	ErrServiceNotFound = errors.New("discovery: service not found")
	// ErrRegistrationNotFound is returned by Unregister for unknown ids.
	ErrRegistrationNotFound = errors.New("discovery: registration not found")
	// ErrInvalidService is returned by Register for incomplete service info.
	ErrInvalidService = errors.New("discovery: invalid service info")
)

// ServiceInfo identifies a service. Its JSON form matches one entry of the
// "services" array in a .serviceconfig file.
type ServiceInfo struct {
	DisplayName        string   `json:"displayName,omitempty"`
	ServiceClass       string   `json:"serviceClass"`
	ProvidedInterfaces []string `json:"providedInterfaces"`
	DescriptionURL     string   `json:"descriptionUrl,omitempty"`
}

// Provides reports whether the service provides iface.
func (s ServiceInfo) Provides(iface string) bool {
	for _, p := range s.ProvidedInterfaces {
		if p == iface {
			return true
		}
	}
	return false
}

// Validate checks that the service can be registered.
func (s ServiceInfo) Validate() error {
	if strings.TrimSpace(s.ServiceClass) == "" {
		return fmt.Errorf("%w: service class is required", ErrInvalidService)
	}
	if len(s.ProvidedInterfaces) == 0 {
		return fmt.Errorf("%w: at least one provided interface is required", ErrInvalidService)
	}
	for _, p := range s.ProvidedInterfaces {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty provided interface", ErrInvalidService)
		}
	}
	return nil
}

// Location is the network endpoint of a registered service.
type Location struct {
	Host string `json:"host"`
	Port string `json:"port"`
	// Path is the URL path the service is mounted under, if any.
	Path string `json:"path,omitempty"`
	TLS  bool   `json:"tls,omitempty"`
}

// URL returns the base URL of the location.
func (l Location) URL() string {
	u := url.URL{Scheme: "http", Host: net.JoinHostPort(l.Host, l.Port), Path: l.Path}
	if l.TLS {
		u.Scheme = "https"
	}
	return u.String()
}

// Validate checks that the location is dialable.
func (l Location) Validate() error {
	if l.Host == "" || l.Port == "" {
		return fmt.Errorf("%w: location needs host and port", ErrInvalidService)
	}
	return nil
}

// LocationFromURL parses a base URL such as http://localhost:8080/rpc.
func LocationFromURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Location{}, fmt.Errorf("parse %q: unsupported scheme %q", raw, u.Scheme)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return Location{Host: u.Hostname(), Port: port, Path: strings.TrimSuffix(u.Path, "/"), TLS: u.Scheme == "https"}, nil
}

// Registration is a stored service registration.
type Registration struct {
	ID           string      `json:"id"`
	Service      ServiceInfo `json:"service"`
	Location     Location    `json:"location"`
	RegisteredAt time.Time   `json:"registered_at"`
}

// Locator registers services and resolves them to locations. Implementations
// are safe for concurrent use.
type Locator interface {
	// Register stores the service and returns a registration id.
	Register(ctx context.Context, svc ServiceInfo, loc Location) (string, error)
	// Unregister removes a registration. Unknown ids yield ErrRegistrationNotFound.
	Unregister(ctx context.Context, id string) error
	// Resolve returns the location of a service providing iface. An empty
	// serviceClass matches any class. ErrServiceNotFound when nothing matches.
	Resolve(ctx context.Context, iface, serviceClass string) (Location, error)
	Close() error
}

// Match picks the registration for (iface, serviceClass) among regs. When
// several match, the most recently registered one wins.
func Match(regs []Registration, iface, serviceClass string) (Registration, bool) {
	var (
		best  Registration
		found bool
	)
	for _, r := range regs {
		if !r.Service.Provides(iface) {
			continue
		}
		if serviceClass != "" && r.Service.ServiceClass != serviceClass {
			continue
		}
		if !found || r.RegisteredAt.After(best.RegisteredAt) {
			best, found = r, true
		}
	}
	return best, found
}

// NotFound wraps ErrServiceNotFound with the failed lookup key.
func NotFound(iface, serviceClass string) error {
	if serviceClass == "" {
		return fmt.Errorf("%w: interface %q", ErrServiceNotFound, iface)
	}
	return fmt.Errorf("%w: interface %q class %q", ErrServiceNotFound, iface, serviceClass)
}

// Stamper issues strictly increasing registration times so that Match can
// order registrations made within one clock tick. The zero value is ready.
type Stamper struct {
	mu   sync.Mutex
	last time.Time
}

// Now returns the current UTC time, bumped past the previous stamp if needed.
func (s *Stamper) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC().Round(0)
	if !now.After(s.last) {
		now = s.last.Add(time.Microsecond)
	}
	s.last = now
	return now
}
