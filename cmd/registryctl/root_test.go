package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/ggoodman/session-sharing-go/discovery/file"
	"github.com/ggoodman/session-sharing-go/httpapi"
	"github.com/ggoodman/session-sharing-go/registry"
	"github.com/ggoodman/session-sharing-go/resources/ndjsonlog"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(ndjsonlog.Kind(), registry.WithLogger(log))
	h, err := httpapi.NewHandler([]*registry.Registry{reg}, httpapi.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = reg.Shutdown(context.Background())
	})
	return srv, reg
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"close", "describe", "initialize", "invoke", "run", "sessions"}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing command %q", name)
		}
	}
}

func TestInitializeInvokeClose(t *testing.T) {
	srv, reg := newTestServer(t)
	path := filepath.Join(t.TempDir(), "cli.ndjson")

	out, err := executeCommand(t, "--endpoint", srv.URL, "initialize", path, "--behavior", "initialize-new")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	var res registry.InitResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !res.NewlyCreated {
		t.Fatalf("expected a new session: %+v", res)
	}

	if _, err := executeCommand(t, "--endpoint", srv.URL, "initialize", path, "-b", "initialize-new"); !errors.Is(err, registry.ErrAlreadyExists) {
		t.Fatalf("second initialize: want AlreadyExists, got %v", err)
	}

	out, err = executeCommand(t, "--endpoint", srv.URL, "invoke", res.SessionID, "log_measurement", `{"measurement_name":"dmm"}`)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(out, `"records_written": 1`) {
		t.Fatalf("unexpected invoke output %q", out)
	}

	out, err = executeCommand(t, "--endpoint", srv.URL, "sessions")
	if err != nil || !strings.Contains(out, res.SessionID) {
		t.Fatalf("sessions: %v %q", err, out)
	}

	if _, err := executeCommand(t, "--endpoint", srv.URL, "close", res.SessionID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(reg.Sessions()) != 0 {
		t.Fatalf("session still open")
	}
	if _, err := executeCommand(t, "--endpoint", srv.URL, "close", res.SessionID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("second close: want NotFound, got %v", err)
	}
}

func TestRunThroughFileDiscovery(t *testing.T) {
	srv, reg := newTestServer(t)
	dir := t.TempDir()

	loc, err := file.New(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer loc.Close()
	where, err := discovery.LocationFromURL(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	svc := discovery.ServiceInfo{ServiceClass: ndjsonlog.ServiceClass, ProvidedInterfaces: []string{ndjsonlog.ProvidedInterface}}
	if _, err := loc.Register(context.Background(), svc, where); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "run.log")
	out, err := executeCommand(t, "--discovery-dir", dir, "run", path, "log_measurement", `{"measurement_name":"a"}`, "-b", "initialize-session-then-detach")
	if err != nil {
		t.Fatalf("run detach: %v", err)
	}
	var first runOutput
	if err := json.Unmarshal([]byte(out), &first); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !first.NewlyCreated || first.Closed {
		t.Fatalf("unexpected first run %+v", first)
	}

	out, err = executeCommand(t, "--discovery-dir", dir, "run", path, "log_measurement", `{"measurement_name":"b"}`, "-b", "attach-to-session-then-close")
	if err != nil {
		t.Fatalf("run attach: %v", err)
	}
	var second runOutput
	if err := json.Unmarshal([]byte(out), &second); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if second.SessionID != first.SessionID || second.NewlyCreated || !second.Closed {
		t.Fatalf("unexpected second run %+v", second)
	}
	if len(reg.Sessions()) != 0 {
		t.Fatalf("session should be closed")
	}
}

func TestArgumentErrors(t *testing.T) {
	tests := map[string][]string{
		"bad server behavior": {"--endpoint", "http://127.0.0.1:1", "initialize", "x.log", "-b", "sometimes"},
		"bad client behavior": {"--endpoint", "http://127.0.0.1:1", "run", "x.log", "op", "-b", "sometimes"},
		"bad params":          {"--endpoint", "http://127.0.0.1:1", "invoke", "id", "op", "{not json"},
		"no interface":        {"--kind", "toaster", "--discovery", "memory", "describe"},
		"none backend":        {"--discovery", "none", "describe"},
		"missing args":        {"--endpoint", "http://127.0.0.1:1", "close"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := executeCommand(t, args...); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
