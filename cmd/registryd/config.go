package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ggoodman/session-sharing-go/internal/locator"
	"github.com/joeshaw/envdecode"
	flag "github.com/spf13/pflag"
)

// Config is the server configuration. Values come from REGISTRY_* environment
// variables and are overridden by command line flags.
type Config struct {
	// Addr to listen on. Port 0 picks a free port, which is then advertised
	// through discovery.
	Addr string `env:"REGISTRY_ADDR,default=127.0.0.1:0"`
	// PublicURL is the base URL advertised to discovery. Derived from the
	// listener when empty.
	PublicURL string `env:"REGISTRY_PUBLIC_URL"`

	Kinds          []string `env:"REGISTRY_KINDS,default=ndjson-logger;device-communication"`
	ServiceConfigs []string `env:"REGISTRY_SERVICE_CONFIGS"`

	Discovery    string `env:"REGISTRY_DISCOVERY,default=file"`
	DiscoveryDir string `env:"REGISTRY_DISCOVERY_DIR"`

	AuthIssuer   string   `env:"REGISTRY_AUTH_ISSUER"`
	AuthAudience string   `env:"REGISTRY_AUTH_AUDIENCE"`
	AuthJWKSURL  string   `env:"REGISTRY_AUTH_JWKS_URL"`
	AuthScopes   []string `env:"REGISTRY_AUTH_SCOPES"`

	LogLevel  string `env:"REGISTRY_LOG_LEVEL,default=info"`
	LogFormat string `env:"REGISTRY_LOG_FORMAT,default=text"`

	MaxBodyBytes    int64         `env:"REGISTRY_MAX_BODY_BYTES,default=4194304"`
	ShutdownTimeout time.Duration `env:"REGISTRY_SHUTDOWN_TIMEOUT,default=10s"`
}

// LoadConfig decodes the environment and then applies args as flag overrides.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("environment: %w", err)
	}

	fs := flag.NewFlagSet("registryd", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address (host:port)")
	fs.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "Base URL advertised to discovery")
	fs.StringSliceVar(&cfg.Kinds, "kind", cfg.Kinds, "Resource kinds to host (repeatable)")
	fs.StringSliceVar(&cfg.ServiceConfigs, "service-config", cfg.ServiceConfigs, "Path to a .serviceconfig file (repeatable)")
	fs.StringVar(&cfg.Discovery, "discovery", cfg.Discovery, "Discovery backend: "+strings.Join(locator.Backends(), ", "))
	fs.StringVar(&cfg.DiscoveryDir, "discovery-dir", cfg.DiscoveryDir, "Registration directory for the file backend")
	fs.StringVar(&cfg.AuthIssuer, "auth-issuer", cfg.AuthIssuer, "OIDC issuer; enables bearer token authentication")
	fs.StringVar(&cfg.AuthAudience, "auth-audience", cfg.AuthAudience, "Expected token audience")
	fs.StringVar(&cfg.AuthJWKSURL, "auth-jwks-url", cfg.AuthJWKSURL, "JWKS URL; skips OIDC discovery when set")
	fs.StringSliceVar(&cfg.AuthScopes, "auth-scope", cfg.AuthScopes, "Required token scope (repeatable)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Maximum request body size")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("listen address is required")
	}
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid public URL %q", c.PublicURL)
		}
	}
	if len(c.Kinds) == 0 {
		return errors.New("at least one kind is required")
	}
	for _, k := range c.Kinds {
		if _, ok := kinds[k]; !ok {
			return fmt.Errorf("unknown kind %q", k)
		}
	}
	if !slices.Contains(locator.Backends(), strings.ToLower(c.Discovery)) {
		return fmt.Errorf("unknown discovery backend %q", c.Discovery)
	}
	if c.AuthIssuer != "" && c.AuthAudience == "" {
		return errors.New("auth audience is required when an issuer is set")
	}
	if c.AuthIssuer == "" && (c.AuthJWKSURL != "" || len(c.AuthScopes) > 0) {
		return errors.New("auth settings require an issuer")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max body bytes must be positive")
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
