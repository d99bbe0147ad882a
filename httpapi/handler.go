package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/session-sharing-go/auth"
	"github.com/ggoodman/session-sharing-go/internal/jsonrpc"
	"github.com/ggoodman/session-sharing-go/internal/logctx"
	"github.com/ggoodman/session-sharing-go/internal/wellknown"
	"github.com/ggoodman/session-sharing-go/registry"
	"github.com/google/uuid"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	wwwAuthenticateHeader = "WWW-Authenticate"
	requestIDHeader       = "X-Request-Id"

	defaultMaxBodyBytes = 4 << 20
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a JSON-RPC
// message exchange is possible. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// Option configures the Handler.
type Option func(*handlerConfig)

type handlerConfig struct {
	logger       *slog.Logger
	authn        auth.Authenticator
	realm        string
	maxBodyBytes int64
	resource     *wellknown.ProtectedResourceMetadata
}

// WithLogger sets the logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *handlerConfig) { c.logger = l }
}

// WithAuthenticator requires a valid bearer token on every RPC.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(c *handlerConfig) { c.authn = a }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(c *handlerConfig) { c.realm = strings.TrimSpace(realm) }
}

// WithMaxBodyBytes bounds the size of a request body.
func WithMaxBodyBytes(n int64) Option {
	return func(c *handlerConfig) {
		if n > 0 {
			c.maxBodyBytes = n
		}
	}
}

// WithResourceMetadata publishes OAuth protected resource metadata for the
// server at resourceURL and points authentication challenges at it. Only
// meaningful together with WithAuthenticator.
func WithResourceMetadata(resourceURL string, authorizationServers, scopes []string) Option {
	return func(c *handlerConfig) {
		c.resource = &wellknown.ProtectedResourceMetadata{
			Resource:               resourceURL,
			AuthorizationServers:   authorizationServers,
			ScopesSupported:        scopes,
			BearerMethodsSupported: []string{"header"},
			ResourceName:           "session registry",
		}
	}
}

// Handler serves one or more registries over JSON-RPC. Each registry is
// reachable at POST /{kind}; GET /healthz reports the hosted kinds.
type Handler struct {
	log     *slog.Logger
	regs    map[string]*registry.Registry
	authn   auth.Authenticator
	realm   string
	maxBody int64
	mux     *http.ServeMux

	resource    *wellknown.ProtectedResourceMetadata
	resourceURL string
}

var _ http.Handler = (*Handler)(nil)

// NewHandler builds a Handler over regs. Kind names must be unique.
func NewHandler(regs []*registry.Registry, opts ...Option) (*Handler, error) {
	cfg := handlerConfig{logger: slog.Default(), realm: "registry", maxBodyBytes: defaultMaxBodyBytes}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if len(regs) == 0 {
		return nil, errors.New("httpapi: at least one registry is required")
	}

	h := &Handler{
		log:     slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		regs:    make(map[string]*registry.Registry, len(regs)),
		authn:   cfg.authn,
		realm:   cfg.realm,
		maxBody: cfg.maxBodyBytes,
	}
	for _, r := range regs {
		name := r.Kind().Name()
		if _, dup := h.regs[name]; dup {
			return nil, fmt.Errorf("httpapi: duplicate kind %q", name)
		}
		h.regs[name] = r
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{kind}", h.handlePostRPC)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	if cfg.resource != nil {
		metaURL, err := wellknown.ProtectedResourceURL(cfg.resource.Resource)
		if err != nil {
			return nil, fmt.Errorf("httpapi: %w", err)
		}
		u, _ := url.Parse(metaURL)
		h.resource = cfg.resource
		h.resourceURL = metaURL
		mux.HandleFunc("GET "+u.Path, h.handleResourceMetadata)
	}
	h.mux = mux
	return h, nil
}

// Kinds returns the hosted kind names in sorted order.
func (h *Handler) Kinds() []string {
	out := make([]string, 0, len(h.regs))
	for k := range h.regs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := r.Header.Get(requestIDHeader)
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, reqID)
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "kinds": h.Kinds()})
}

func (h *Handler) handleResourceMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.Header().Set("Cache-Control", "max-age=300")
	_ = json.NewEncoder(w).Encode(h.resource)
}

func (h *Handler) handlePostRPC(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	if h.authn != nil {
		tok, err := auth.BearerToken(r)
		var user auth.UserInfo
		if err == nil {
			user, err = h.authn.CheckAuthentication(ctx, tok)
		}
		if err != nil {
			status, challenge := auth.Challenge(h.realm, err)
			if h.resourceURL != "" {
				challenge += fmt.Sprintf(`, resource_metadata=%q`, h.resourceURL)
			}
			w.Header().Add(wwwAuthenticateHeader, challenge)
			writeJSONError(w, status, http.StatusText(status))
			h.log.InfoContext(ctx, "auth.fail", slog.String("err", err.Error()))
			return
		}
		ctx = auth.WithUser(ctx, user)
		h.log.DebugContext(ctx, "auth.ok", slog.String("user_id", user.UserID()))
	}

	kind := r.PathValue("kind")
	reg, ok := h.regs[kind]
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("unknown resource kind %q", kind))
		h.log.InfoContext(ctx, "kind.miss", slog.String("kind", kind))
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&raw); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		}
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC batch arrays are not supported")
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}
	if req.IsNotification() {
		writeJSONError(w, http.StatusBadRequest, "JSON-RPC notifications are not supported")
		h.log.WarnContext(ctx, "jsonrpc.notification.forbidden")
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String(), Type: "request"})
	res := h.dispatch(ctx, reg, &req)

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		h.log.ErrorContext(ctx, "http.post.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "http.post.ok", slog.Duration("dur", time.Since(start)))
}
