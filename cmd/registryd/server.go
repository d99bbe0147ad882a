package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ggoodman/session-sharing-go/auth"
	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/ggoodman/session-sharing-go/httpapi"
	"github.com/ggoodman/session-sharing-go/internal/locator"
	"github.com/ggoodman/session-sharing-go/registry"
	"github.com/ggoodman/session-sharing-go/resources/devicecomm"
	"github.com/ggoodman/session-sharing-go/resources/ndjsonlog"
)

// hostedKind is a kind this binary can serve together with its default
// discovery identity.
type hostedKind struct {
	kind    func() registry.Kind
	service discovery.ServiceInfo
}

var kinds = map[string]hostedKind{
	ndjsonlog.KindName: {
		kind: ndjsonlog.Kind,
		service: discovery.ServiceInfo{
			DisplayName:        ndjsonlog.DisplayName,
			ServiceClass:       ndjsonlog.ServiceClass,
			ProvidedInterfaces: []string{ndjsonlog.ProvidedInterface},
		},
	},
	devicecomm.KindName: {
		kind: devicecomm.Kind,
		service: discovery.ServiceInfo{
			DisplayName:        devicecomm.DisplayName,
			ServiceClass:       devicecomm.ServiceClass,
			ProvidedInterfaces: []string{devicecomm.ProvidedInterface},
		},
	},
}

type server struct {
	cfg  *Config
	log  *slog.Logger
	regs []*registry.Registry
	srv  *http.Server
	ln   net.Listener
	loc  discovery.Locator
	ids  []string
	base string
}

// newServer builds the registries, binds the listener and publishes every
// hosted kind to discovery. Nothing is served until serve is called.
func newServer(ctx context.Context, cfg *Config, log *slog.Logger) (_ *server, err error) {
	s := &server{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			s.teardown(context.Background())
		}
	}()

	services, err := serviceInfos(cfg)
	if err != nil {
		return nil, err
	}

	for _, name := range cfg.Kinds {
		s.regs = append(s.regs, registry.New(kinds[name].kind(), registry.WithLogger(log.With(slog.String("kind", name)))))
	}

	s.ln, err = net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	s.base = cfg.PublicURL
	if s.base == "" {
		s.base = advertisedURL(s.ln.Addr())
	}

	opts := []httpapi.Option{httpapi.WithLogger(log), httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes)}
	if cfg.AuthIssuer != "" {
		authn, err := newAuthenticator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			httpapi.WithAuthenticator(authn),
			httpapi.WithResourceMetadata(s.base, []string{cfg.AuthIssuer}, cfg.AuthScopes),
		)
	}
	h, err := httpapi.NewHandler(s.regs, opts...)
	if err != nil {
		return nil, err
	}
	s.srv = &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	where, err := discovery.LocationFromURL(s.base)
	if err != nil {
		return nil, err
	}

	s.loc, err = locator.Open(cfg.Discovery, cfg.DiscoveryDir, log)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}
	if s.loc != nil {
		for _, svc := range services {
			id, err := s.loc.Register(ctx, svc, where)
			if err != nil {
				return nil, fmt.Errorf("register %s: %w", svc.ServiceClass, err)
			}
			s.ids = append(s.ids, id)
			log.InfoContext(ctx, "discovery.register.ok",
				slog.String("service_class", svc.ServiceClass),
				slog.String("registration_id", id),
				slog.String("url", where.URL()),
			)
		}
	}
	return s, nil
}

// URL is the advertised base URL.
func (s *server) URL() string { return s.base }

// serve blocks until ctx is cancelled or the server fails, then shuts down.
func (s *server) serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.InfoContext(ctx, "server.listen", slog.String("addr", s.ln.Addr().String()), slog.String("url", s.base))
		errc <- s.srv.Serve(s.ln)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.teardown(sctx)
	return serveErr
}

// teardown withdraws registrations first so new clients stop arriving, then
// drains HTTP and closes every open session.
func (s *server) teardown(ctx context.Context) {
	if s.loc != nil {
		for _, id := range s.ids {
			if err := s.loc.Unregister(ctx, id); err != nil {
				s.log.WarnContext(ctx, "discovery.unregister.fail", slog.String("registration_id", id), slog.String("err", err.Error()))
			}
		}
		s.ids = nil
		_ = s.loc.Close()
	}
	if s.srv != nil {
		if err := s.srv.Shutdown(ctx); err != nil {
			s.log.WarnContext(ctx, "server.shutdown.fail", slog.String("err", err.Error()))
		}
	}
	if s.ln != nil {
		_ = s.ln.Close()
	}
	for _, r := range s.regs {
		if err := r.Shutdown(ctx); err != nil {
			s.log.WarnContext(ctx, "registry.shutdown.fail", slog.String("kind", r.Kind().Name()), slog.String("err", err.Error()))
		}
	}
	s.log.InfoContext(ctx, "server.stopped")
}

// serviceInfos returns the discovery identity of each hosted kind. Entries in
// service config files replace the built-in identity with the same class.
func serviceInfos(cfg *Config) ([]discovery.ServiceInfo, error) {
	var overrides []discovery.ServiceConfig
	for _, path := range cfg.ServiceConfigs {
		sc, err := discovery.LoadServiceConfig(path)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, sc)
	}
	out := make([]discovery.ServiceInfo, 0, len(cfg.Kinds))
	for _, name := range cfg.Kinds {
		svc := kinds[name].service
		for _, sc := range overrides {
			if o, ok := sc.Lookup(svc.ServiceClass); ok {
				svc = o
			}
		}
		out = append(out, svc)
	}
	return out, nil
}

func newAuthenticator(ctx context.Context, cfg *Config) (auth.Authenticator, error) {
	var opts []auth.AccessTokenAuthOption
	if len(cfg.AuthScopes) > 0 {
		opts = append(opts, auth.WithRequiredScopes(cfg.AuthScopes...))
	}
	if cfg.AuthJWKSURL != "" {
		return auth.NewStatic(ctx, cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthJWKSURL, opts...)
	}
	return auth.NewFromDiscovery(ctx, cfg.AuthIssuer, cfg.AuthAudience, opts...)
}

// advertisedURL turns a listener address into a dialable base URL. Wildcard
// hosts are advertised as loopback.
func advertisedURL(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "http://" + addr.String()
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
