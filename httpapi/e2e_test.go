package httpapi

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ggoodman/session-sharing-go/client"
	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/ggoodman/session-sharing-go/discovery/memory"
	"github.com/ggoodman/session-sharing-go/registry"
	"github.com/ggoodman/session-sharing-go/resources/devicecomm"
	"github.com/ggoodman/session-sharing-go/resources/ndjsonlog"
)

func newTestClient(t *testing.T) (*Client, *registry.Registry) {
	t.Helper()
	srv, logs := newTestServer(t)
	c, err := NewClient(srv.URL, WithClientLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, logs
}

func TestRemoteSessionLifecycle(t *testing.T) {
	c, logs := newTestClient(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "log.txt")

	first, err := c.Initialize(ctx, ndjsonlog.KindName, path, registry.BehaviorInitializeNew, nil)
	if err != nil {
		t.Fatalf("initialize new: %v", err)
	}
	if !first.NewlyCreated {
		t.Fatalf("first initialize should create")
	}

	_, err = c.Initialize(ctx, ndjsonlog.KindName, path, registry.BehaviorInitializeNew, nil)
	if !errors.Is(err, registry.ErrAlreadyExists) {
		t.Fatalf("want AlreadyExists, got %v", err)
	}

	attached, err := c.Initialize(ctx, ndjsonlog.KindName, path, registry.BehaviorAttachToExisting, nil)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if attached.SessionID != first.SessionID || attached.NewlyCreated {
		t.Fatalf("attach returned %+v, want %s not newly created", attached, first.SessionID)
	}

	sessions, err := c.Sessions(ctx, ndjsonlog.KindName)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions: %v %+v", err, sessions)
	}

	if err := c.Close(ctx, ndjsonlog.KindName, first.SessionID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(ctx, ndjsonlog.KindName, first.SessionID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("second close: want NotFound, got %v", err)
	}
	_, err = c.Initialize(ctx, ndjsonlog.KindName, path, registry.BehaviorAttachToExisting, nil)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("attach after close: want NotFound, got %v", err)
	}
	if got := logs.Sessions(); len(got) != 0 {
		t.Fatalf("registry still holds %d sessions", len(got))
	}
}

func TestRemoteDetachThenAttachAndClose(t *testing.T) {
	c, logs := newTestClient(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.ndjson")

	var firstID string
	err := client.Run(ctx, c, ndjsonlog.KindName, path, func(ctx context.Context, s *client.Session) error {
		firstID = s.ID()
		var res ndjsonlog.LogResult
		return s.Invoke(ctx, "log_measurement", ndjsonlog.Measurement{MeasurementName: "setup"}, &res)
	}, client.WithBehavior(client.InitializeSessionThenDetach), client.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, ok := logs.Lookup(firstID); !ok {
		t.Fatalf("detached session should stay open")
	}

	err = client.Run(ctx, c, ndjsonlog.KindName, path, func(ctx context.Context, s *client.Session) error {
		if s.ID() != firstID {
			t.Errorf("attached to %s, want %s", s.ID(), firstID)
		}
		var res ndjsonlog.LogResult
		if err := s.Invoke(ctx, "log_measurement", ndjsonlog.Measurement{MeasurementName: "teardown"}, &res); err != nil {
			return err
		}
		if res.RecordsWritten != 2 {
			t.Errorf("records written = %d, want 2", res.RecordsWritten)
		}
		return nil
	}, client.WithBehavior(client.AttachToSessionThenClose), client.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := logs.Sessions(); len(got) != 0 {
		t.Fatalf("session should be closed, registry holds %+v", got)
	}
}

func TestRemoteConcurrentInitializeNew(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "race.log")

	const n = 16
	var (
		wg      sync.WaitGroup
		created atomic.Int32
		exists  atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Initialize(ctx, ndjsonlog.KindName, path, registry.BehaviorInitializeNew, nil)
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, registry.ErrAlreadyExists):
				exists.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if created.Load() != 1 || exists.Load() != n-1 {
		t.Fatalf("created=%d exists=%d, want 1 and %d", created.Load(), exists.Load(), n-1)
	}
}

func TestRemoteErrorCodes(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Initialize(ctx, ndjsonlog.KindName, filepath.Join(t.TempDir(), "bad.csv"), registry.BehaviorUnspecified, nil)
	if !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("bad extension: want InvalidArgument, got %v", err)
	}

	_, err = c.Invoke(ctx, ndjsonlog.KindName, "no-such-session", "log_measurement", nil)
	if !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("unknown session: want NotFound, got %v", err)
	}

	_, err = c.Describe(ctx, "no-such-kind")
	if !errors.Is(err, registry.ErrInvalidArgument) || !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("unknown kind: want InvalidArgument 404, got %v", err)
	}
	if errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("unknown kind must not look like an unknown session: %v", err)
	}

	res, err := c.Initialize(ctx, ndjsonlog.KindName, filepath.Join(t.TempDir(), "ok.log"), registry.BehaviorUnspecified, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Invoke(ctx, ndjsonlog.KindName, res.SessionID, "log_measurement", []byte(`{}`))
	if !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("missing measurement name: want InvalidArgument, got %v", err)
	}
	_, err = c.Invoke(ctx, ndjsonlog.KindName, res.SessionID, "explode", nil)
	if !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("unknown operation: want InvalidArgument, got %v", err)
	}
}

func TestRemoteDescribe(t *testing.T) {
	c, _ := newTestClient(t)
	d, err := c.Describe(context.Background(), devicecomm.KindName)
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if d.Name != devicecomm.KindName || len(d.Operations) == 0 {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	for _, op := range d.Operations {
		if op.ParamsSchema == nil {
			t.Errorf("operation %s has no params schema", op.Name)
		}
	}
}

func TestDialThroughLocator(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx := context.Background()

	loc := memory.New()
	t.Cleanup(func() { _ = loc.Close() })

	where, err := discovery.LocationFromURL(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	svc := discovery.ServiceInfo{
		DisplayName:        ndjsonlog.DisplayName,
		ServiceClass:       ndjsonlog.ServiceClass,
		ProvidedInterfaces: []string{ndjsonlog.ProvidedInterface},
	}
	if _, err := loc.Register(ctx, svc, where); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, err := Dial(ctx, loc, "ni.unknown.v1", "", WithClientLogger(quietLogger())); !errors.Is(err, discovery.ErrServiceNotFound) {
		t.Fatalf("want ErrServiceNotFound, got %v", err)
	}

	c, err := Dial(ctx, loc, ndjsonlog.ProvidedInterface, ndjsonlog.ServiceClass, WithClientLogger(quietLogger()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if c.BaseURL() != srv.URL {
		t.Fatalf("dialed %s, want %s", c.BaseURL(), srv.URL)
	}

	path := filepath.Join(t.TempDir(), "found.ndjson")
	err = client.Run(ctx, c, ndjsonlog.KindName, path, func(ctx context.Context, s *client.Session) error {
		if !s.NewlyCreated() {
			t.Errorf("auto should have created the session")
		}
		return s.Invoke(ctx, "log_measurement", ndjsonlog.Measurement{MeasurementName: "dmm"}, nil)
	}, client.WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	for _, raw := range []string{"", "ftp://host", "http://", "::"} {
		if _, err := NewClient(raw); err == nil {
			t.Errorf("NewClient(%q) should fail", raw)
		}
	}
}
