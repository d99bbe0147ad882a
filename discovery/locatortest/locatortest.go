// Package locatortest is a conformance suite for discovery.Locator backends.
package locatortest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/google/uuid"
)

// LocatorFactory creates a fresh Locator for one test. Backends sharing state
// across calls are fine: every test uses its own interface names.
type LocatorFactory func(t *testing.T) discovery.Locator

// RunLocatorTests runs the complete Locator test suite against the provided factory.
func RunLocatorTests(t *testing.T, factory LocatorFactory) {
	t.Run("RegisterAndResolve", func(t *testing.T) { testRegisterAndResolve(t, factory) })
	t.Run("ResolveUnknownInterface", func(t *testing.T) { testResolveUnknown(t, factory) })
	t.Run("ResolveFiltersByClass", func(t *testing.T) { testClassFilter(t, factory) })
	t.Run("ResolveMultipleInterfaces", func(t *testing.T) { testMultipleInterfaces(t, factory) })
	t.Run("LatestRegistrationWins", func(t *testing.T) { testLatestWins(t, factory) })
	t.Run("UnregisterRemoves", func(t *testing.T) { testUnregister(t, factory) })
	t.Run("UnregisterUnknown", func(t *testing.T) { testUnregisterUnknown(t, factory) })
	t.Run("RejectsInvalidService", func(t *testing.T) { testInvalid(t, factory) })
	t.Run("ConcurrentRegistration", func(t *testing.T) { testConcurrent(t, factory) })
}

func newLocator(t *testing.T, factory LocatorFactory) discovery.Locator {
	t.Helper()
	l := factory(t)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func iface(t *testing.T) string {
	t.Helper()
	return "test.iface." + uuid.NewString()
}

func svc(class string, ifaces ...string) discovery.ServiceInfo {
	return discovery.ServiceInfo{DisplayName: class, ServiceClass: class, ProvidedInterfaces: ifaces}
}

func loc(port int) discovery.Location {
	return discovery.Location{Host: "127.0.0.1", Port: fmt.Sprint(port)}
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testRegisterAndResolve(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	ctx := ctxT(t)
	i := iface(t)

	id, err := l.Register(ctx, svc("svc.A", i), discovery.Location{Host: "127.0.0.1", Port: "9000", Path: "/rpc"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty registration id")
	}
	got, err := l.Resolve(ctx, i, "svc.A")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.URL() != "http://127.0.0.1:9000/rpc" {
		t.Fatalf("unexpected location %+v", got)
	}
	if got, err = l.Resolve(ctx, i, ""); err != nil || got.Port != "9000" {
		t.Fatalf("resolve without class: %+v %v", got, err)
	}
}

func testResolveUnknown(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	_, err := l.Resolve(ctxT(t), iface(t), "")
	if !errors.Is(err, discovery.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}

func testClassFilter(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	ctx := ctxT(t)
	i := iface(t)

	if _, err := l.Register(ctx, svc("svc.A", i), loc(9001)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := l.Register(ctx, svc("svc.B", i), loc(9002)); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := l.Resolve(ctx, i, "svc.A")
	if err != nil || got.Port != "9001" {
		t.Fatalf("class A resolved to %+v, %v", got, err)
	}
	if _, err := l.Resolve(ctx, i, "svc.C"); !errors.Is(err, discovery.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound for unknown class, got %v", err)
	}
}

func testMultipleInterfaces(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	ctx := ctxT(t)
	i1, i2 := iface(t), iface(t)

	if _, err := l.Register(ctx, svc("svc.A", i1, i2), loc(9003)); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, i := range []string{i1, i2} {
		if got, err := l.Resolve(ctx, i, "svc.A"); err != nil || got.Port != "9003" {
			t.Fatalf("resolve %s: %+v %v", i, got, err)
		}
	}
}

func testLatestWins(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	ctx := ctxT(t)
	i := iface(t)

	for port := 9010; port < 9013; port++ {
		if _, err := l.Register(ctx, svc("svc.A", i), loc(port)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	got, err := l.Resolve(ctx, i, "svc.A")
	if err != nil || got.Port != "9012" {
		t.Fatalf("expected latest registration, got %+v %v", got, err)
	}
}

func testUnregister(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	ctx := ctxT(t)
	i := iface(t)

	first, err := l.Register(ctx, svc("svc.A", i), loc(9020))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	second, err := l.Register(ctx, svc("svc.A", i), loc(9021))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := l.Unregister(ctx, second); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if got, err := l.Resolve(ctx, i, "svc.A"); err != nil || got.Port != "9020" {
		t.Fatalf("expected fallback to remaining registration, got %+v %v", got, err)
	}
	if err := l.Unregister(ctx, first); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := l.Resolve(ctx, i, "svc.A"); !errors.Is(err, discovery.ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound after unregister, got %v", err)
	}
	if err := l.Unregister(ctx, first); !errors.Is(err, discovery.ErrRegistrationNotFound) {
		t.Fatalf("second unregister: expected ErrRegistrationNotFound, got %v", err)
	}
}

func testUnregisterUnknown(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	if err := l.Unregister(ctxT(t), uuid.NewString()); !errors.Is(err, discovery.ErrRegistrationNotFound) {
		t.Fatalf("expected ErrRegistrationNotFound, got %v", err)
	}
}

func testInvalid(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	ctx := ctxT(t)
	cases := map[string]struct {
		svc discovery.ServiceInfo
		loc discovery.Location
	}{
		"no class":      {svc("", iface(t)), loc(1)},
		"no interfaces": {svc("svc.A"), loc(1)},
		"no host":       {svc("svc.A", iface(t)), discovery.Location{Port: "1"}},
	}
	for name, tc := range cases {
		if _, err := l.Register(ctx, tc.svc, tc.loc); !errors.Is(err, discovery.ErrInvalidService) {
			t.Fatalf("%s: expected ErrInvalidService, got %v", name, err)
		}
	}
}

func testConcurrent(t *testing.T, factory LocatorFactory) {
	l := newLocator(t, factory)
	ctx := ctxT(t)

	const n = 16
	ifaces := make([]string, n)
	for i := range ifaces {
		ifaces[i] = iface(t)
	}
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Register(ctx, svc("svc.A", ifaces[i]), loc(9100+i)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent register: %v", err)
	}
	for i, name := range ifaces {
		got, err := l.Resolve(ctx, name, "")
		if err != nil || got.Port != fmt.Sprint(9100+i) {
			t.Fatalf("resolve %d: %+v %v", i, got, err)
		}
	}
}
