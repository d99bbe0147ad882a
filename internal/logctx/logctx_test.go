package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestHandlerAddsContextGroups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Handler{slog.NewJSONHandler(&buf, nil)}).With(slog.String("component", "test"))

	ctx := WithRequestData(context.Background(), &RequestData{RequestID: "r1", Method: "POST", Path: "/ndjson-logger"})
	ctx = WithRPCMessage(ctx, &RPCMessage{Method: "session.invoke", ID: "7", Type: "request"})
	ctx = WithSessionData(ctx, &SessionData{Kind: "ndjson-logger", SessionID: "s1", ResourceName: "/tmp/a.ndjson"})
	ctx = WithOperationData(ctx, &OperationData{Name: "log_measurement"})
	log.InfoContext(ctx, "session.invoke.ok")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode %s: %v", buf.Bytes(), err)
	}
	if rec["component"] != "test" {
		t.Fatalf("logger.With attrs lost: %v", rec)
	}
	group := func(name string) map[string]any {
		g, ok := rec[name].(map[string]any)
		if !ok {
			t.Fatalf("missing %s group in %v", name, rec)
		}
		return g
	}
	if group("req")["id"] != "r1" || group("rpc")["method"] != "session.invoke" {
		t.Fatalf("unexpected req/rpc groups: %v", rec)
	}
	if s := group("sess"); s["id"] != "s1" || s["resource"] != "/tmp/a.ndjson" || s["kind"] != "ndjson-logger" {
		t.Fatalf("unexpected sess group: %v", s)
	}
	if _, ok := group("sess")["user_id"]; ok {
		t.Fatalf("empty user id should be omitted")
	}
	if group("op")["name"] != "log_measurement" {
		t.Fatalf("unexpected op group: %v", rec)
	}
	if RequestID(ctx) != "r1" || RequestID(context.Background()) != "" {
		t.Fatalf("RequestID lookup failed")
	}
}
