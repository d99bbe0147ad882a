package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/ggoodman/session-sharing-go/client"
	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/ggoodman/session-sharing-go/internal/jsonrpc"
	"github.com/ggoodman/session-sharing-go/registry"
)

var _ client.Transport = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client. Defaults to http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithBearerToken sends tok in the Authorization header of every request.
func WithBearerToken(tok string) ClientOption {
	return func(c *Client) { c.token = strings.TrimSpace(tok) }
}

// WithClientLogger sets the logger for transport diagnostics.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// Client talks to a Handler. It implements client.Transport, so it can back
// client.Acquire and client.Run. A Client is bound to one endpoint for its
// lifetime and is safe for concurrent use.
type Client struct {
	base   string
	hc     *http.Client
	token  string
	log    *slog.Logger
	nextID atomic.Int64
}

// NewClient returns a Client for the registry server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("httpapi: invalid base URL %q", baseURL)
	}
	c := &Client{
		base: strings.TrimSuffix(u.String(), "/"),
		hc:   http.DefaultClient,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Dial resolves the service providing iface (and serviceClass, if set) once
// and returns a Client bound to that location.
func Dial(ctx context.Context, loc discovery.Locator, iface, serviceClass string, opts ...ClientOption) (*Client, error) {
	where, err := loc.Resolve(ctx, iface, serviceClass)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", iface, err)
	}
	return NewClient(where.URL(), opts...)
}

// BaseURL returns the endpoint the client is bound to.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) Initialize(ctx context.Context, kind, resourceName string, behavior registry.InitBehavior, params json.RawMessage) (registry.InitResult, error) {
	var res registry.InitResult
	err := c.call(ctx, kind, MethodInitialize, InitializeParams{ResourceName: resourceName, Behavior: behavior, Params: params}, &res)
	return res, err
}

func (c *Client) Close(ctx context.Context, kind, sessionID string) error {
	return c.call(ctx, kind, MethodClose, CloseParams{SessionID: sessionID}, nil)
}

func (c *Client) Invoke(ctx context.Context, kind, sessionID, operation string, params json.RawMessage) (json.RawMessage, error) {
	var res json.RawMessage
	err := c.call(ctx, kind, MethodInvoke, InvokeParams{SessionID: sessionID, Operation: operation, Params: params}, &res)
	return res, err
}

// Describe returns the descriptor of a hosted kind.
func (c *Client) Describe(ctx context.Context, kind string) (registry.KindDescriptor, error) {
	var d registry.KindDescriptor
	err := c.call(ctx, kind, MethodDescribe, nil, &d)
	return d, err
}

// Sessions lists the open sessions of a hosted kind.
func (c *Client) Sessions(ctx context.Context, kind string) ([]registry.SessionInfo, error) {
	var res SessionsResult
	err := c.call(ctx, kind, MethodSessions, nil, &res)
	return res.Sessions, err
}

// call performs one JSON-RPC exchange. Server-reported failures come back as
// *registry.Error; transport rejections as *registry.Error wrapping a
// *StatusError.
func (c *Client) call(ctx context.Context, kind, method string, params, result any) error {
	rpcReq, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(c.nextID.Add(1)), method, params)
	if err != nil {
		return registry.Errorf(registry.CodeInvalidArgument, "%s: %v", method, err)
	}
	body, err := json.Marshal(rpcReq)
	if err != nil {
		return registry.Errorf(registry.CodeInvalidArgument, "%s: %v", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+url.PathEscape(kind), bytes.NewReader(body))
	if err != nil {
		return registry.Errorf(registry.CodeInternal, "%s: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		c.log.DebugContext(ctx, "http.call.fail", slog.String("method", method), slog.String("err", err.Error()))
		return registry.Errorf(registry.CodeInternal, "%s %s: %w", method, kind, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		se := &StatusError{Status: resp.StatusCode}
		var env struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); json.Unmarshal(b, &env) == nil {
			se.Message = env.Error.Message
		}
		return &registry.Error{Code: statusCode(resp.StatusCode), Message: fmt.Sprintf("%s %s: %s", method, kind, se.Error()), Err: se}
	}

	var rpcResp jsonrpc.Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return registry.Errorf(registry.CodeInternal, "%s: decode response: %w", method, err)
	}
	if !rpcResp.ID.Equal(rpcReq.ID) {
		return registry.Errorf(registry.CodeInternal, "%s: response id %s does not match request id %s", method, rpcResp.ID, rpcReq.ID)
	}
	if rpcResp.Error != nil {
		return registryError(rpcResp.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return registry.Errorf(registry.CodeInternal, "%s: decode result: %w", method, err)
	}
	return nil
}
