package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ggoodman/session-sharing-go/client"
	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/ggoodman/session-sharing-go/discovery/file"
	"github.com/ggoodman/session-sharing-go/httpapi"
	"github.com/ggoodman/session-sharing-go/registry"
	"github.com/ggoodman/session-sharing-go/resources/devicecomm"
	"github.com/ggoodman/session-sharing-go/resources/ndjsonlog"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Addr:            "127.0.0.1:0",
		Kinds:           []string{ndjsonlog.KindName, devicecomm.KindName},
		Discovery:       "file",
		DiscoveryDir:    t.TempDir(),
		LogLevel:        "error",
		LogFormat:       "text",
		MaxBodyBytes:    1 << 20,
		ShutdownTimeout: 5 * time.Second,
	}
}

func TestServerPublishesAndWithdraws(t *testing.T) {
	cfg := testConfig(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := newServer(ctx, cfg, log)
	if err != nil {
		t.Fatalf("newServer: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx) }()

	loc, err := file.New(cfg.DiscoveryDir, file.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	defer loc.Close()

	c, err := httpapi.Dial(ctx, loc, ndjsonlog.ProvidedInterface, ndjsonlog.ServiceClass, httpapi.WithClientLogger(log))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if c.BaseURL() != s.URL() {
		t.Fatalf("resolved %s, server advertises %s", c.BaseURL(), s.URL())
	}
	if _, err := loc.Resolve(ctx, devicecomm.ProvidedInterface, ""); err != nil {
		t.Fatalf("device communication not published: %v", err)
	}

	path := filepath.Join(t.TempDir(), "server.ndjson")
	err = client.Run(ctx, c, ndjsonlog.KindName, path, func(ctx context.Context, sess *client.Session) error {
		return sess.Invoke(ctx, "log_measurement", ndjsonlog.Measurement{MeasurementName: "dmm"}, nil)
	}, client.WithLogger(log))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Leave a detached session open; shutdown must close it.
	if _, err := c.Initialize(ctx, ndjsonlog.KindName, path, registry.BehaviorInitializeNew, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	if _, err := loc.Resolve(context.Background(), ndjsonlog.ProvidedInterface, ""); !errors.Is(err, discovery.ErrServiceNotFound) {
		t.Fatalf("registration should be withdrawn, got %v", err)
	}
	for _, r := range s.regs {
		if n := len(r.Sessions()); n != 0 {
			t.Fatalf("%s still has %d sessions", r.Kind().Name(), n)
		}
	}
}

func TestServiceConfigOverrides(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "logger.serviceconfig")
	body := `{"services":[{"displayName":"Bench Logger","serviceClass":"` + ndjsonlog.ServiceClass + `","providedInterface":"` + ndjsonlog.ProvidedInterface + `","providedInterfaces":["lab.bench.logger.v2"]}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.ServiceConfigs = []string{path}

	infos, err := serviceInfos(cfg)
	if err != nil {
		t.Fatalf("serviceInfos: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("want 2 services, got %d", len(infos))
	}
	logger := infos[0]
	if logger.DisplayName != "Bench Logger" || !logger.Provides("lab.bench.logger.v2") || !logger.Provides(ndjsonlog.ProvidedInterface) {
		t.Fatalf("override not applied: %+v", logger)
	}
	if infos[1].ServiceClass != devicecomm.ServiceClass {
		t.Fatalf("device communication identity changed: %+v", infos[1])
	}

	cfg.ServiceConfigs = []string{filepath.Join(t.TempDir(), "missing.serviceconfig")}
	if _, err := serviceInfos(cfg); err == nil {
		t.Fatalf("expected error for missing service config")
	}
}

func TestAdvertisedURL(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8080": "http://127.0.0.1:8080",
		"0.0.0.0:8080":   "http://localhost:8080",
		"[::]:9000":      "http://localhost:9000",
		"[::1]:9000":     "http://[::1]:9000",
	}
	for in, want := range tests {
		addr, err := net.ResolveTCPAddr("tcp", in)
		if err != nil {
			t.Fatal(err)
		}
		if got := advertisedURL(addr); got != want {
			t.Errorf("advertisedURL(%s) = %s, want %s", in, got, want)
		}
	}
}
