package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InitResult is returned by Initialize.
type InitResult struct {
	SessionID    string `json:"session_id"`
	NewlyCreated bool   `json:"newly_created"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for session lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithIDGenerator replaces the uuid v4 session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithClock replaces the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry is the session registry for a single resource kind. It is the only
// mutator of its store and is safe for concurrent use.
type Registry struct {
	kind  Kind
	log   *slog.Logger
	newID func() string
	now   func() time.Time
	store *store

	lifeMu sync.RWMutex
	down   bool
}

// New creates a Registry that constructs handles with kind.
func New(kind Kind, opts ...Option) *Registry {
	r := &Registry{
		kind:  kind,
		log:   slog.Default(),
		newID: uuid.NewString,
		now:   time.Now,
		store: newStore(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(slog.String("kind", kind.Name()))
	return r
}

// Kind returns the resource kind served by the registry.
func (r *Registry) Kind() Kind { return r.kind }

// Initialize resolves behavior against the current state of resourceName and
// either hands back the open session or constructs a new one. The decision and
// any construction happen under the name's exclusive lock.
func (r *Registry) Initialize(ctx context.Context, resourceName string, behavior InitBehavior, params json.RawMessage) (InitResult, error) {
	if strings.TrimSpace(resourceName) == "" {
		return InitResult{}, Errorf(CodeInvalidArgument, "resource name must not be empty")
	}
	if !behavior.Valid() {
		return InitResult{}, Errorf(CodeInvalidArgument, "unknown initialization behavior %d", int(behavior))
	}
	if n, ok := r.kind.(NameNormalizer); ok {
		normalized, err := n.NormalizeName(resourceName)
		if err != nil {
			if _, typed := err.(*Error); typed {
				return InitResult{}, err
			}
			return InitResult{}, Errorf(CodeInvalidArgument, "resource name %q: %v", resourceName, err)
		}
		resourceName = normalized
	}
	if err := ctx.Err(); err != nil {
		return InitResult{}, classify(err, "initialize %q", resourceName)
	}

	r.lifeMu.RLock()
	defer r.lifeMu.RUnlock()
	if r.down {
		return InitResult{}, Errorf(CodeInternal, "registry for %s is shut down", r.kind.Name())
	}

	unlock := r.store.lock(resourceName, true)
	defer unlock()

	existing := r.store.get(resourceName)
	switch Resolve(behavior, existing) {
	case DecisionUseExisting:
		r.log.InfoContext(ctx, "session.initialize.reuse",
			slog.String("session_id", existing.ID),
			slog.String("resource", resourceName),
			slog.String("behavior", behavior.String()),
		)
		return InitResult{SessionID: existing.ID}, nil
	case DecisionRejectAlreadyExists:
		r.log.InfoContext(ctx, "session.initialize.conflict", slog.String("resource", resourceName))
		return InitResult{}, Errorf(CodeAlreadyExists, "a session for %q is already open", resourceName)
	case DecisionRejectNotFound:
		r.log.InfoContext(ctx, "session.initialize.miss", slog.String("resource", resourceName))
		return InitResult{}, Errorf(CodeNotFound, "no open session for %q", resourceName)
	case DecisionCreateNew:
	default:
		return InitResult{}, Errorf(CodeInvalidArgument, "unknown initialization behavior %d", int(behavior))
	}

	start := time.Now()
	h, err := r.kind.Construct(ctx, resourceName, params)
	if err != nil {
		r.log.WarnContext(ctx, "session.construct.fail",
			slog.String("resource", resourceName),
			slog.String("err", err.Error()),
		)
		return InitResult{}, classify(err, "open %q", resourceName)
	}
	if h == nil {
		return InitResult{}, Errorf(CodeInternal, "open %q: resource kind returned no handle", resourceName)
	}

	rec := &Record{
		ID:           r.newID(),
		ResourceName: resourceName,
		Handle:       h,
		CreatedAt:    r.now(),
	}
	r.store.insert(rec)

	r.log.InfoContext(ctx, "session.initialize.ok",
		slog.String("session_id", rec.ID),
		slog.String("resource", resourceName),
		slog.String("behavior", behavior.String()),
		slog.Duration("dur", time.Since(start)),
	)
	return InitResult{SessionID: rec.ID, NewlyCreated: true}, nil
}

// Close removes the session and destructs its handle. The record is removed
// even when destruction fails; that failure is still returned. Closing an
// unknown or already closed session returns NotFound.
func (r *Registry) Close(ctx context.Context, sessionID string) error {
	name, ok := r.store.nameOf(sessionID)
	if !ok {
		return Errorf(CodeNotFound, "session %q not found", sessionID)
	}

	unlock := r.store.lock(name, true)
	defer unlock()

	rec := r.store.current(sessionID)
	if rec == nil {
		return Errorf(CodeNotFound, "session %q not found", sessionID)
	}
	r.store.remove(rec)

	if err := rec.Handle.Close(ctx); err != nil {
		r.log.ErrorContext(ctx, "session.close.fail",
			slog.String("session_id", sessionID),
			slog.String("resource", name),
			slog.String("err", err.Error()),
		)
		return classify(err, "close %q", name)
	}

	r.log.InfoContext(ctx, "session.close.ok",
		slog.String("session_id", sessionID),
		slog.String("resource", name),
	)
	return nil
}

// Invoke runs a domain operation against an open session. Operations on the
// same name run concurrently with each other but never overlap Initialize or
// Close of that name.
func (r *Registry) Invoke(ctx context.Context, sessionID, operation string, params json.RawMessage) (json.RawMessage, error) {
	name, ok := r.store.nameOf(sessionID)
	if !ok {
		return nil, Errorf(CodeNotFound, "session %q not found", sessionID)
	}

	unlock := r.store.lock(name, false)
	defer unlock()

	rec := r.store.current(sessionID)
	if rec == nil {
		return nil, Errorf(CodeNotFound, "session %q not found", sessionID)
	}

	op, ok := r.kind.Operation(operation)
	if !ok {
		return nil, Errorf(CodeInvalidArgument, "unknown operation %q for %s", operation, r.kind.Name())
	}

	res, err := op.Handler(ctx, rec.Handle, params)
	if err != nil {
		r.log.DebugContext(ctx, "session.invoke.fail",
			slog.String("session_id", sessionID),
			slog.String("operation", operation),
			slog.String("err", err.Error()),
		)
		return nil, classify(err, "%s", operation)
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return nil, Errorf(CodeInternal, "%s: encode result: %w", operation, err)
	}
	return raw, nil
}

// Lookup returns a snapshot of the open session with the given id.
func (r *Registry) Lookup(sessionID string) (SessionInfo, bool) {
	rec := r.store.current(sessionID)
	if rec == nil {
		return SessionInfo{}, false
	}
	return r.info(rec), true
}

// Sessions returns snapshots of every open session, oldest first.
func (r *Registry) Sessions() []SessionInfo {
	recs := r.store.snapshot()
	out := make([]SessionInfo, 0, len(recs))
	for i := range recs {
		out = append(out, r.info(&recs[i]))
	}
	return out
}

// Shutdown closes every open session and makes later Initialize calls fail
// with Internal. Destruction failures are joined and returned.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.lifeMu.Lock()
	r.down = true
	r.lifeMu.Unlock()

	var errs []error
	for _, rec := range r.store.snapshot() {
		if err := r.Close(ctx, rec.ID); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) info(rec *Record) SessionInfo {
	return SessionInfo{
		SessionID:    rec.ID,
		ResourceName: rec.ResourceName,
		Kind:         r.kind.Name(),
		CreatedAt:    rec.CreatedAt,
	}
}
