package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ggoodman/session-sharing-go/auth/authtest"
	"github.com/ggoodman/session-sharing-go/internal/jsonrpc"
	"github.com/ggoodman/session-sharing-go/registry"
	"github.com/ggoodman/session-sharing-go/resources/devicecomm"
	"github.com/ggoodman/session-sharing-go/resources/ndjsonlog"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *registry.Registry) {
	t.Helper()
	logs := registry.New(ndjsonlog.Kind(), registry.WithLogger(quietLogger()))
	dev := registry.New(devicecomm.Kind(), registry.WithLogger(quietLogger()))
	h, err := NewHandler([]*registry.Registry{logs, dev}, append([]Option{WithLogger(quietLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = logs.Shutdown(context.Background())
		_ = dev.Shutdown(context.Background())
	})
	return srv, logs
}

func post(t *testing.T, url, contentType, body string, hdr ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeRPC(t *testing.T, resp *http.Response) jsonrpc.Response {
	t.Helper()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, b)
	}
	var out jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestNewHandlerValidation(t *testing.T) {
	if _, err := NewHandler(nil); err == nil {
		t.Fatalf("expected error for empty registry list")
	}
	a := registry.New(ndjsonlog.Kind(), registry.WithLogger(quietLogger()))
	b := registry.New(ndjsonlog.Kind(), registry.WithLogger(quietLogger()))
	if _, err := NewHandler([]*registry.Registry{a, b}); err == nil {
		t.Fatalf("expected error for duplicate kinds")
	}
}

func TestHandlerRejections(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/" + ndjsonlog.KindName

	tests := map[string]struct {
		url         string
		contentType string
		body        string
		status      int
	}{
		"wrong content type":   {base, "text/plain", `{}`, http.StatusUnsupportedMediaType},
		"missing content type": {base, "", `{}`, http.StatusUnsupportedMediaType},
		"unknown kind":         {srv.URL + "/nope", "application/json", `{"jsonrpc":"2.0","id":1,"method":"kind.describe"}`, http.StatusNotFound},
		"malformed body":       {base, "application/json", `{"jsonrpc":`, http.StatusBadRequest},
		"batch":                {base, "application/json", `[{"jsonrpc":"2.0","id":1,"method":"kind.describe"}]`, http.StatusBadRequest},
		"bad version":          {base, "application/json", `{"jsonrpc":"1.0","id":1,"method":"kind.describe"}`, http.StatusBadRequest},
		"notification":         {base, "application/json", `{"jsonrpc":"2.0","method":"kind.describe"}`, http.StatusBadRequest},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			resp := post(t, tc.url, tc.contentType, tc.body)
			if resp.StatusCode != tc.status {
				t.Fatalf("want %d, got %d", tc.status, resp.StatusCode)
			}
			var env struct {
				Error struct {
					Code    int    `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if env.Error.Code != tc.status || env.Error.Message == "" {
				t.Fatalf("unexpected error body %+v", env)
			}
		})
	}
}

func TestHandlerBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, WithMaxBodyBytes(64))
	body := `{"jsonrpc":"2.0","id":1,"method":"kind.describe","params":{"pad":"` + strings.Repeat("x", 128) + `"}}`
	resp := post(t, srv.URL+"/"+ndjsonlog.KindName, "application/json", body)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("want 413, got %d", resp.StatusCode)
	}
}

func TestHandlerRequestID(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := post(t, srv.URL+"/"+ndjsonlog.KindName, "application/json",
		`{"jsonrpc":"2.0","id":1,"method":"kind.describe"}`, requestIDHeader, "abc-123")
	if got := resp.Header.Get(requestIDHeader); got != "abc-123" {
		t.Fatalf("request id not echoed: %q", got)
	}
	resp = post(t, srv.URL+"/"+ndjsonlog.KindName, "application/json", `{"jsonrpc":"2.0","id":2,"method":"kind.describe"}`)
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestHandlerMethodErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	base := srv.URL + "/" + ndjsonlog.KindName

	res := decodeRPC(t, post(t, base, "application/json", `{"jsonrpc":"2.0","id":"a","method":"session.explode"}`))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("want method not found, got %+v", res.Error)
	}
	if res.ID.String() != "a" {
		t.Fatalf("response id %s does not echo request", res.ID)
	}

	res = decodeRPC(t, post(t, base, "application/json", `{"jsonrpc":"2.0","id":2,"method":"session.close","params":{"session_id":42}}`))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("want invalid params, got %+v", res.Error)
	}
	if res.Error.Data == nil || res.Error.Data.Code != string(registry.CodeInvalidArgument) {
		t.Fatalf("want data.code INVALID_ARGUMENT, got %+v", res.Error.Data)
	}

	res = decodeRPC(t, post(t, base, "application/json", `{"jsonrpc":"2.0","id":3,"method":"session.close","params":{"session_id":"missing"}}`))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeApplication || res.Error.Data.Code != string(registry.CodeNotFound) {
		t.Fatalf("want application NOT_FOUND, got %+v", res.Error)
	}
}

func TestHandlerInitializeAndInvoke(t *testing.T) {
	srv, logs := newTestServer(t)
	base := srv.URL + "/" + ndjsonlog.KindName
	path := filepath.Join(t.TempDir(), "wire.ndjson")

	initBody, _ := json.Marshal(jsonrpc.Request{JSONRPCVersion: "2.0", ID: jsonrpc.NewRequestID(1), Method: MethodInitialize,
		Params: mustJSON(t, InitializeParams{ResourceName: path, Behavior: registry.BehaviorInitializeNew})})
	res := decodeRPC(t, post(t, base, "application/json", string(initBody)))
	if res.Error != nil {
		t.Fatalf("initialize: %+v", res.Error)
	}
	var ir registry.InitResult
	if err := json.Unmarshal(res.Result, &ir); err != nil {
		t.Fatal(err)
	}
	if !ir.NewlyCreated || ir.SessionID == "" {
		t.Fatalf("unexpected init result %+v", ir)
	}
	if _, ok := logs.Lookup(ir.SessionID); !ok {
		t.Fatalf("session not registered")
	}

	invokeBody, _ := json.Marshal(jsonrpc.Request{JSONRPCVersion: "2.0", ID: jsonrpc.NewRequestID(2), Method: MethodInvoke,
		Params: mustJSON(t, InvokeParams{SessionID: ir.SessionID, Operation: "log_measurement", Params: mustJSON(t, ndjsonlog.Measurement{MeasurementName: "dmm"})})})
	res = decodeRPC(t, post(t, base, "application/json", string(invokeBody)))
	if res.Error != nil {
		t.Fatalf("invoke: %+v", res.Error)
	}
	var lr ndjsonlog.LogResult
	if err := json.Unmarshal(res.Result, &lr); err != nil || lr.RecordsWritten != 1 {
		t.Fatalf("unexpected log result %s (%v)", res.Result, err)
	}
}

func TestHandlerAuthentication(t *testing.T) {
	tokens := authtest.NewTokens("registry:write")
	tokens.Issue("good", "alice", "registry:write")
	tokens.Issue("weak", "bob", "registry:read")
	srv, _ := newTestServer(t, WithAuthenticator(tokens), WithRealm("lab"))
	base := srv.URL + "/" + ndjsonlog.KindName
	body := `{"jsonrpc":"2.0","id":1,"method":"kind.describe"}`

	resp := post(t, base, "application/json", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", resp.StatusCode)
	}
	if hdr := resp.Header.Get(wwwAuthenticateHeader); !strings.Contains(hdr, `realm="lab"`) {
		t.Fatalf("unexpected challenge %q", hdr)
	}

	resp = post(t, base, "application/json", body, "Authorization", "Bearer nope")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401 for unknown token, got %d", resp.StatusCode)
	}

	resp = post(t, base, "application/json", body, "Authorization", "Bearer weak")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("want 403 for insufficient scope, got %d", resp.StatusCode)
	}

	res := decodeRPC(t, post(t, base, "application/json", body, "Authorization", "Bearer good"))
	if res.Error != nil {
		t.Fatalf("describe: %+v", res.Error)
	}

	c, err := NewClient(srv.URL, WithBearerToken("weak"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Describe(context.Background(), ndjsonlog.KindName)
	if !errors.Is(err, registry.ErrPermissionDenied) || !IsStatus(err, http.StatusForbidden) {
		t.Fatalf("want permission denied 403, got %v", err)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string   `json:"status"`
		Kinds  []string `json:"kinds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" || len(body.Kinds) != 2 || body.Kinds[0] != devicecomm.KindName || body.Kinds[1] != ndjsonlog.KindName {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestStatusCodeMapping(t *testing.T) {
	tests := map[int]registry.Code{
		http.StatusBadRequest:            registry.CodeInvalidArgument,
		http.StatusUnsupportedMediaType:  registry.CodeInvalidArgument,
		http.StatusRequestEntityTooLarge: registry.CodeInvalidArgument,
		http.StatusNotFound:              registry.CodeInvalidArgument,
		http.StatusUnauthorized:          registry.CodePermissionDenied,
		http.StatusForbidden:             registry.CodePermissionDenied,
		http.StatusBadGateway:            registry.CodeInternal,
	}
	for status, want := range tests {
		if got := statusCode(status); got != want {
			t.Errorf("statusCode(%d) = %s, want %s", status, got, want)
		}
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestResourceMetadata(t *testing.T) {
	tokens := authtest.NewTokens()
	logs := registry.New(ndjsonlog.Kind(), registry.WithLogger(quietLogger()))
	srv := httptest.NewUnstartedServer(nil)
	base := "http://" + srv.Listener.Addr().String()
	h, err := NewHandler([]*registry.Registry{logs},
		WithLogger(quietLogger()),
		WithAuthenticator(tokens),
		WithResourceMetadata(base, []string{"https://idp.example"}, []string{"registry:write"}),
	)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	srv.Config.Handler = h
	srv.Start()
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/.well-known/oauth-protected-resource")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var meta struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
		ScopesSupported      []string `json:"scopes_supported"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatal(err)
	}
	if meta.Resource != srv.URL || len(meta.AuthorizationServers) != 1 || meta.ScopesSupported[0] != "registry:write" {
		t.Fatalf("unexpected metadata %+v", meta)
	}

	rpc := post(t, srv.URL+"/"+ndjsonlog.KindName, "application/json", `{"jsonrpc":"2.0","id":1,"method":"kind.describe"}`)
	if rpc.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %d", rpc.StatusCode)
	}
	want := `resource_metadata="` + srv.URL + `/.well-known/oauth-protected-resource"`
	if hdr := rpc.Header.Get(wwwAuthenticateHeader); !strings.Contains(hdr, want) {
		t.Fatalf("challenge %q does not reference metadata", hdr)
	}

	if _, err := NewHandler([]*registry.Registry{logs}, WithResourceMetadata("relative", nil, nil)); err == nil {
		t.Fatalf("expected error for relative resource URL")
	}
}
