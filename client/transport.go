package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ggoodman/session-sharing-go/registry"
)

// Transport carries session calls to the registry that serves kind. Errors
// must be *registry.Error values (or wrap one) so callers can branch on the
// failure category regardless of the transport in use. A kind nobody serves
// is InvalidArgument; NotFound is reserved for unknown sessions. Over HTTP
// the rejection status stays reachable with httpapi.IsStatus, e.g.
// IsStatus(err, http.StatusNotFound) for an unknown kind.
type Transport interface {
	Initialize(ctx context.Context, kind, resourceName string, behavior registry.InitBehavior, params json.RawMessage) (registry.InitResult, error)
	Close(ctx context.Context, kind, sessionID string) error
	Invoke(ctx context.Context, kind, sessionID, operation string, params json.RawMessage) (json.RawMessage, error)
}

// LocalTransport dispatches straight to in-process registries.
type LocalTransport struct {
	mu   sync.RWMutex
	regs map[string]*registry.Registry
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport builds a transport over the given registries, keyed by
// the name of the kind each one serves.
func NewLocalTransport(regs ...*registry.Registry) *LocalTransport {
	lt := &LocalTransport{regs: make(map[string]*registry.Registry, len(regs))}
	for _, reg := range regs {
		lt.regs[reg.Kind().Name()] = reg
	}
	return lt
}

// Add registers another registry, replacing any previous one for its kind.
func (lt *LocalTransport) Add(reg *registry.Registry) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.regs[reg.Kind().Name()] = reg
}

func (lt *LocalTransport) registry(kind string) (*registry.Registry, error) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	reg, ok := lt.regs[kind]
	if !ok {
		return nil, registry.Errorf(registry.CodeInvalidArgument, "no registry serves kind %q", kind)
	}
	return reg, nil
}

func (lt *LocalTransport) Initialize(ctx context.Context, kind, resourceName string, behavior registry.InitBehavior, params json.RawMessage) (registry.InitResult, error) {
	reg, err := lt.registry(kind)
	if err != nil {
		return registry.InitResult{}, err
	}
	return reg.Initialize(ctx, resourceName, behavior, params)
}

func (lt *LocalTransport) Close(ctx context.Context, kind, sessionID string) error {
	reg, err := lt.registry(kind)
	if err != nil {
		return err
	}
	return reg.Close(ctx, sessionID)
}

func (lt *LocalTransport) Invoke(ctx context.Context, kind, sessionID, operation string, params json.RawMessage) (json.RawMessage, error) {
	reg, err := lt.registry(kind)
	if err != nil {
		return nil, err
	}
	return reg.Invoke(ctx, sessionID, operation, params)
}
