package discovery

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMatch(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	regs := []Registration{
		{ID: "a", Service: ServiceInfo{ServiceClass: "A", ProvidedInterfaces: []string{"x"}}, Location: Location{Port: "1"}, RegisteredAt: base},
		{ID: "b", Service: ServiceInfo{ServiceClass: "B", ProvidedInterfaces: []string{"x", "y"}}, Location: Location{Port: "2"}, RegisteredAt: base.Add(time.Second)},
		{ID: "c", Service: ServiceInfo{ServiceClass: "A", ProvidedInterfaces: []string{"x"}}, Location: Location{Port: "3"}, RegisteredAt: base.Add(2 * time.Second)},
	}
	tests := []struct {
		iface, class string
		want         string
	}{
		{"x", "", "c"},
		{"x", "A", "c"},
		{"x", "B", "b"},
		{"y", "", "b"},
		{"y", "A", ""},
		{"z", "", ""},
	}
	for _, tc := range tests {
		got, ok := Match(regs, tc.iface, tc.class)
		if tc.want == "" {
			if ok {
				t.Fatalf("Match(%q,%q) = %s, want none", tc.iface, tc.class, got.ID)
			}
			continue
		}
		if !ok || got.ID != tc.want {
			t.Fatalf("Match(%q,%q) = %q, want %q", tc.iface, tc.class, got.ID, tc.want)
		}
	}
}

func TestLocationURL(t *testing.T) {
	tests := map[string]Location{
		"http://localhost:8080":       {Host: "localhost", Port: "8080"},
		"https://svc.example.com/rpc": {Host: "svc.example.com", Port: "443", Path: "/rpc", TLS: true},
		"http://[::1]:9000/registry/": {Host: "::1", Port: "9000", Path: "/registry"},
		"http://example.com":          {Host: "example.com", Port: "80"},
	}
	for raw, want := range tests {
		got, err := LocationFromURL(raw)
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if got != want {
			t.Fatalf("%s: got %+v, want %+v", raw, got, want)
		}
	}
	if got := (Location{Host: "::1", Port: "9000", Path: "/registry"}).URL(); got != "http://[::1]:9000/registry" {
		t.Fatalf("URL() = %s", got)
	}
	if _, err := LocationFromURL("ftp://host/x"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestLoadServiceConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "JsonLogger.serviceconfig")
	body := `{
  "services": [
    {
      "displayName": "JSON Logger Service",
      "serviceClass": "ni.logger.JSONLogService",
      "providedInterface": "ni.logger.v1.json",
      "descriptionUrl": ""
    },
    {
      "serviceClass": "ni.devicecomm.DeviceCommunicationService",
      "providedInterfaces": ["ni.devicecomm.v1", "ni.devicecomm.v2"]
    }
  ]
}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(cfg.Services))
	}
	logger, ok := cfg.Lookup("ni.logger.JSONLogService")
	if !ok || !logger.Provides("ni.logger.v1.json") || logger.DisplayName != "JSON Logger Service" {
		t.Fatalf("unexpected logger entry %+v", logger)
	}
	dev, ok := cfg.Lookup("ni.devicecomm.DeviceCommunicationService")
	if !ok || len(dev.ProvidedInterfaces) != 2 {
		t.Fatalf("unexpected device entry %+v", dev)
	}

	bad := filepath.Join(dir, "bad.serviceconfig")
	if err := os.WriteFile(bad, []byte(`{"services":[{"displayName":"no class"}]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadServiceConfig(bad); !errors.Is(err, ErrInvalidService) {
		t.Fatalf("expected ErrInvalidService, got %v", err)
	}
	if _, err := LoadServiceConfig(filepath.Join(dir, "missing.serviceconfig")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestStamperIsStrictlyIncreasing(t *testing.T) {
	var s Stamper
	prev := s.Now()
	for i := 0; i < 1000; i++ {
		next := s.Now()
		if !next.After(prev) {
			t.Fatalf("stamp %d did not advance: %v <= %v", i, next, prev)
		}
		prev = next
	}
}
