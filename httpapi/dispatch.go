package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ggoodman/session-sharing-go/auth"
	"github.com/ggoodman/session-sharing-go/internal/jsonrpc"
	"github.com/ggoodman/session-sharing-go/internal/logctx"
	"github.com/ggoodman/session-sharing-go/registry"
)

// dispatch runs one JSON-RPC request against reg and always returns a
// response; failures become JSON-RPC errors.
func (h *Handler) dispatch(ctx context.Context, reg *registry.Registry, req *jsonrpc.Request) *jsonrpc.Response {
	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodInitialize:
		var p InitializeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return invalidParams(req.ID, err)
		}
		ctx = h.withSession(ctx, reg, "", p.ResourceName)
		var res registry.InitResult
		res, err = reg.Initialize(ctx, p.ResourceName, p.Behavior, p.Params)
		if err == nil {
			ctx = h.withSession(ctx, reg, res.SessionID, "")
		}
		result = res

	case MethodClose:
		var p CloseParams
		if err := decodeParams(req.Params, &p); err != nil {
			return invalidParams(req.ID, err)
		}
		ctx = h.withSession(ctx, reg, p.SessionID, "")
		err = reg.Close(ctx, p.SessionID)
		result = CloseResult{Closed: err == nil}

	case MethodInvoke:
		var p InvokeParams
		if err := decodeParams(req.Params, &p); err != nil {
			return invalidParams(req.ID, err)
		}
		ctx = h.withSession(ctx, reg, p.SessionID, "")
		ctx = logctx.WithOperationData(ctx, &logctx.OperationData{Name: p.Operation})
		result, err = reg.Invoke(ctx, p.SessionID, p.Operation, p.Params)

	case MethodDescribe:
		result = reg.Kind().Describe()

	case MethodSessions:
		sessions := reg.Sessions()
		if sessions == nil {
			sessions = []registry.SessionInfo{}
		}
		result = SessionsResult{Sessions: sessions}

	default:
		h.log.InfoContext(ctx, "rpc.method.miss")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}

	if err != nil {
		code, msg, data := rpcError(err)
		if data.Code == string(registry.CodeInternal) {
			h.log.ErrorContext(ctx, "rpc.call.fail", slog.String("code", data.Code), slog.String("err", err.Error()))
		} else {
			h.log.InfoContext(ctx, "rpc.call.reject", slog.String("code", data.Code), slog.String("err", err.Error()))
		}
		return jsonrpc.NewErrorResponse(req.ID, code, msg, data)
	}

	res, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", &jsonrpc.ErrorData{Code: string(registry.CodeInternal)})
	}
	h.log.DebugContext(ctx, "rpc.call.ok")
	return res
}

// withSession attaches session log data. The resource name is looked up when
// only the id is known.
func (h *Handler) withSession(ctx context.Context, reg *registry.Registry, id, resourceName string) context.Context {
	if id != "" && resourceName == "" {
		if info, ok := reg.Lookup(id); ok {
			resourceName = info.ResourceName
		}
	}
	sd := &logctx.SessionData{Kind: reg.Kind().Name(), SessionID: id, ResourceName: resourceName}
	if u, ok := auth.UserFromContext(ctx); ok {
		sd.UserID = u.UserID()
	}
	return logctx.WithSessionData(ctx, sd)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func invalidParams(id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInvalidParams, "invalid params: "+err.Error(),
		&jsonrpc.ErrorData{Code: string(registry.CodeInvalidArgument)})
}
