// Package memory is an in-process discovery.Locator.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/google/uuid"
)

var _ discovery.Locator = (*Locator)(nil)

// Locator keeps registrations in a map.
type Locator struct {
	mu    sync.RWMutex
	regs  map[string]discovery.Registration
	stamp discovery.Stamper
}

// New returns an empty locator.
func New() *Locator {
	return &Locator{regs: make(map[string]discovery.Registration)}
}

func (l *Locator) Register(ctx context.Context, svc discovery.ServiceInfo, loc discovery.Location) (string, error) {
	if err := svc.Validate(); err != nil {
		return "", err
	}
	if err := loc.Validate(); err != nil {
		return "", err
	}
	reg := discovery.Registration{ID: uuid.NewString(), Service: svc, Location: loc, RegisteredAt: l.stamp.Now()}
	l.mu.Lock()
	l.regs[reg.ID] = reg
	l.mu.Unlock()
	return reg.ID, nil
}

func (l *Locator) Unregister(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.regs[id]; !ok {
		return fmt.Errorf("%w: %s", discovery.ErrRegistrationNotFound, id)
	}
	delete(l.regs, id)
	return nil
}

func (l *Locator) Resolve(ctx context.Context, iface, serviceClass string) (discovery.Location, error) {
	if err := ctx.Err(); err != nil {
		return discovery.Location{}, err
	}
	l.mu.RLock()
	regs := make([]discovery.Registration, 0, len(l.regs))
	for _, r := range l.regs {
		regs = append(regs, r)
	}
	l.mu.RUnlock()
	if r, ok := discovery.Match(regs, iface, serviceClass); ok {
		return r.Location, nil
	}
	return discovery.Location{}, discovery.NotFound(iface, serviceClass)
}

// Close is a no-op.
func (l *Locator) Close() error { return nil }
