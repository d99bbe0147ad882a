package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/session-sharing-go/registry"
)

// ErrReleased is returned by Session.Invoke after Release. It carries
// CodeNotFound, so it also matches registry.ErrNotFound.
var ErrReleased = &registry.Error{Code: registry.CodeNotFound, Message: "client: session released"}

// Option configures Acquire and Run.
type Option func(*acquireConfig)

type acquireConfig struct {
	behavior Behavior
	params   any
	log      *slog.Logger
}

// WithBehavior selects the client behavior. The default is Auto.
func WithBehavior(b Behavior) Option {
	return func(c *acquireConfig) { c.behavior = b }
}

// WithParams sets the resource-specific construction parameters. Values other
// than json.RawMessage are marshalled to JSON.
func WithParams(params any) Option {
	return func(c *acquireConfig) { c.params = params }
}

// WithLogger sets the logger used to report release outcomes.
func WithLogger(log *slog.Logger) Option {
	return func(c *acquireConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// Session is a scoped reference to a server-side session. The disposition is
// fixed when the session is acquired; Release applies it exactly once.
type Session struct {
	t            Transport
	kind         string
	resourceName string
	id           string
	newlyCreated bool
	behavior     Behavior
	willClose    bool
	log          *slog.Logger

	once     sync.Once
	released atomic.Bool
}

// Acquire initializes a session for resourceName with the configured behavior.
// On error nothing is returned and no cleanup is needed.
func Acquire(ctx context.Context, t Transport, kind, resourceName string, opts ...Option) (*Session, error) {
	cfg := acquireConfig{behavior: Auto, log: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	rec, err := Reconcile(cfg.behavior)
	if err != nil {
		return nil, err
	}
	params, err := encodeParams(cfg.params)
	if err != nil {
		return nil, err
	}

	res, err := t.Initialize(ctx, kind, resourceName, rec.Server, params)
	if err != nil {
		return nil, err
	}

	s := &Session{
		t:            t,
		kind:         kind,
		resourceName: resourceName,
		id:           res.SessionID,
		newlyCreated: res.NewlyCreated,
		behavior:     cfg.behavior,
		willClose:    rec.Disposition.ShouldClose(res.NewlyCreated),
	}
	s.log = cfg.log.With(slog.Group("sess",
		slog.String("id", s.id),
		slog.String("resource", resourceName),
		slog.String("kind", kind),
	))
	s.log.DebugContext(ctx, "session.acquire.ok",
		slog.String("behavior", cfg.behavior.String()),
		slog.Bool("newly_created", res.NewlyCreated),
		slog.Bool("will_close", s.willClose),
	)
	return s, nil
}

// ID returns the server-issued session id.
func (s *Session) ID() string { return s.id }

// ResourceName returns the name the session was acquired for.
func (s *Session) ResourceName() string { return s.resourceName }

// NewlyCreated reports whether this acquisition created the session.
func (s *Session) NewlyCreated() bool { return s.newlyCreated }

// Behavior returns the behavior the session was acquired with.
func (s *Session) Behavior() Behavior { return s.behavior }

// WillClose reports whether Release will close the server-side session.
func (s *Session) WillClose() bool { return s.willClose }

// Invoke runs a domain operation. params is marshalled to JSON unless it is
// already a json.RawMessage; a non-nil result is decoded from the response.
func (s *Session) Invoke(ctx context.Context, operation string, params, result any) error {
	if s.released.Load() {
		return ErrReleased
	}
	raw, err := encodeParams(params)
	if err != nil {
		return err
	}
	out, err := s.t.Invoke(ctx, s.kind, s.id, operation, raw)
	if err != nil {
		return err
	}
	if result == nil || len(out) == 0 {
		return nil
	}
	if err := json.Unmarshal(out, result); err != nil {
		return registry.Errorf(registry.CodeInternal, "%s: decode result: %w", operation, err)
	}
	return nil
}

// Release ends the unit of work. Only the first call has any effect. When the
// disposition calls for it the session is closed; a close failure is logged
// and swallowed so it never masks the outcome of the work itself.
func (s *Session) Release(ctx context.Context) {
	s.once.Do(func() {
		s.released.Store(true)
		if !s.willClose {
			s.log.DebugContext(ctx, "session.release.detach")
			return
		}
		if err := s.t.Close(ctx, s.kind, s.id); err != nil {
			s.log.ErrorContext(ctx, "session.close.fail", slog.String("err", err.Error()))
			return
		}
		s.log.DebugContext(ctx, "session.close.ok")
	})
}

// Run acquires a session, runs fn with it and releases it on every exit
// path, including a panic in fn. fn's error is returned unchanged. Release
// runs on a context that is not canceled along with ctx.
func Run(ctx context.Context, t Transport, kind, resourceName string, fn func(ctx context.Context, s *Session) error, opts ...Option) error {
	s, err := Acquire(ctx, t, kind, resourceName, opts...)
	if err != nil {
		return err
	}
	defer s.Release(context.WithoutCancel(ctx))
	return fn(ctx, s)
}

func encodeParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, registry.Errorf(registry.CodeInvalidArgument, "encode params: %w", err)
	}
	return raw, nil
}
