package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ggoodman/session-sharing-go/internal/jsonrpc"
	"github.com/ggoodman/session-sharing-go/registry"
)

// JSON-RPC methods served at POST {base}/{kind}.
const (
	MethodInitialize = "session.initialize"
	MethodClose      = "session.close"
	MethodInvoke     = "session.invoke"
	MethodDescribe   = "kind.describe"
	MethodSessions   = "kind.sessions"
)

// InitializeParams are the params of session.initialize.
type InitializeParams struct {
	ResourceName string                `json:"resource_name"`
	Behavior     registry.InitBehavior `json:"behavior"`
	Params       json.RawMessage       `json:"params,omitempty"`
}

// CloseParams are the params of session.close.
type CloseParams struct {
	SessionID string `json:"session_id"`
}

// InvokeParams are the params of session.invoke.
type InvokeParams struct {
	SessionID string          `json:"session_id"`
	Operation string          `json:"operation"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// CloseResult is the result of session.close.
type CloseResult struct {
	Closed bool `json:"closed"`
}

// SessionsResult is the result of kind.sessions.
type SessionsResult struct {
	Sessions []registry.SessionInfo `json:"sessions"`
}

// rpcError turns a registry failure into a JSON-RPC error carrying the
// registry code in data.code.
func rpcError(err error) (jsonrpc.ErrorCode, string, *jsonrpc.ErrorData) {
	code := registry.CodeOf(err)
	rpc := jsonrpc.ErrorCodeApplication
	if code == registry.CodeInternal {
		rpc = jsonrpc.ErrorCodeInternalError
	}
	return rpc, err.Error(), &jsonrpc.ErrorData{Code: string(code)}
}

// registryError rebuilds the registry error a server reported.
func registryError(e *jsonrpc.Error) error {
	if e.Data != nil && registry.Code(e.Data.Code).Valid() {
		return &registry.Error{Code: registry.Code(e.Data.Code), Message: e.Message}
	}
	switch e.Code {
	case jsonrpc.ErrorCodeInvalidParams, jsonrpc.ErrorCodeInvalidRequest, jsonrpc.ErrorCodeMethodNotFound:
		return &registry.Error{Code: registry.CodeInvalidArgument, Message: e.Message, Err: e}
	default:
		return &registry.Error{Code: registry.CodeInternal, Message: e.Message, Err: e}
	}
}

// StatusError is a transport-level rejection: the server refused the HTTP
// request before any JSON-RPC exchange.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return http.StatusText(e.Status)
	}
	return e.Message
}

// statusCode maps a transport rejection onto the registry error space so
// callers branch on one set of sentinels. A 404 means no registry serves the
// requested kind, which is a bad argument rather than a missing session.
func statusCode(status int) registry.Code {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnsupportedMediaType, http.StatusRequestEntityTooLarge:
		return registry.CodeInvalidArgument
	case http.StatusUnauthorized, http.StatusForbidden:
		return registry.CodePermissionDenied
	default:
		return registry.CodeInternal
	}
}

// IsStatus reports whether err is a transport rejection with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
