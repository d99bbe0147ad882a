package main

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != "127.0.0.1:0" || cfg.Discovery != "file" || cfg.LogLevel != "info" || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if len(cfg.Kinds) != 2 {
		t.Fatalf("want both kinds by default, got %v", cfg.Kinds)
	}
}

func TestLoadConfigEnvAndFlags(t *testing.T) {
	t.Setenv("REGISTRY_ADDR", "127.0.0.1:9000")
	t.Setenv("REGISTRY_KINDS", "ndjson-logger")
	t.Setenv("REGISTRY_LOG_FORMAT", "json")

	cfg, err := LoadConfig([]string{"--addr", "127.0.0.1:9100", "--discovery", "memory"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9100" {
		t.Fatalf("flag should override env, got %q", cfg.Addr)
	}
	if cfg.LogFormat != "json" || cfg.Discovery != "memory" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Kinds) != 1 || cfg.Kinds[0] != "ndjson-logger" {
		t.Fatalf("kinds from env: %v", cfg.Kinds)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Addr:         "127.0.0.1:0",
			Kinds:        []string{"ndjson-logger"},
			Discovery:    "file",
			LogLevel:     "debug",
			LogFormat:    "text",
			MaxBodyBytes: 1024,
		}
	}
	tests := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"ok":                  {func(*Config) {}, ""},
		"no addr":             {func(c *Config) { c.Addr = "" }, "listen address"},
		"bad public url":      {func(c *Config) { c.PublicURL = "ftp://x" }, "public URL"},
		"unknown kind":        {func(c *Config) { c.Kinds = []string{"toaster"} }, "unknown kind"},
		"no kinds":            {func(c *Config) { c.Kinds = nil }, "at least one kind"},
		"unknown backend":     {func(c *Config) { c.Discovery = "etcd" }, "discovery backend"},
		"issuer no audience":  {func(c *Config) { c.AuthIssuer = "https://idp" }, "audience"},
		"scopes no issuer":    {func(c *Config) { c.AuthScopes = []string{"x"} }, "require an issuer"},
		"bad level":           {func(c *Config) { c.LogLevel = "loud" }, "log level"},
		"bad format":          {func(c *Config) { c.LogFormat = "xml" }, "log format"},
		"non-positive bodies": {func(c *Config) { c.MaxBodyBytes = 0 }, "max body"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatal(err)
	}
	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
