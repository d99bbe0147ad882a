// Package file is a discovery.Locator backed by a directory of JSON
// registration files, one per registration. Processes on the same host share
// a directory; each keeps an in-memory view refreshed by an fsnotify watcher.
// Lookups that miss the view, or hit an entry whose file is gone, rescan the
// directory before answering, so a stale view never hides a live service.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/google/uuid"
)

const ext = ".json"

var _ discovery.Locator = (*Locator)(nil)

// Option configures a Locator.
type Option func(*Locator)

// WithLogger sets the logger used for watcher diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(loc *Locator) {
		if l != nil {
			loc.log = l
		}
	}
}

// Locator stores registrations as <id>.json files in a directory.
type Locator struct {
	dir   string
	log   *slog.Logger
	stamp discovery.Stamper

	mu   sync.RWMutex
	regs map[string]discovery.Registration

	cancel context.CancelFunc
	done   chan struct{}
}

// New opens (creating if needed) the registration directory and starts
// watching it.
func New(dir string, opts ...Option) (*Locator, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("discovery dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("discovery dir: %w", err)
	}
	l := &Locator{
		dir:  abs,
		log:  slog.Default(),
		regs: make(map[string]discovery.Registration),
		done: make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	if err := l.rescan(); err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("discovery watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("discovery watcher: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.watch(ctx, w)
	return l, nil
}

// Dir returns the absolute registration directory.
func (l *Locator) Dir() string { return l.dir }

func (l *Locator) path(id string) string { return filepath.Join(l.dir, id+ext) }

func (l *Locator) Register(ctx context.Context, svc discovery.ServiceInfo, loc discovery.Location) (string, error) {
	if err := svc.Validate(); err != nil {
		return "", err
	}
	if err := loc.Validate(); err != nil {
		return "", err
	}
	reg := discovery.Registration{ID: uuid.NewString(), Service: svc, Location: loc, RegisteredAt: l.stamp.Now()}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode registration: %w", err)
	}

	// Write then rename so readers never observe a partial file.
	tmp, err := os.CreateTemp(l.dir, ".reg-*")
	if err != nil {
		return "", fmt.Errorf("write registration: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write registration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write registration: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path(reg.ID)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write registration: %w", err)
	}

	l.mu.Lock()
	l.regs[reg.ID] = reg
	l.mu.Unlock()
	return reg.ID, nil
}

func (l *Locator) Unregister(ctx context.Context, id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%w: %q", discovery.ErrRegistrationNotFound, id)
	}
	err := os.Remove(l.path(id))
	l.mu.Lock()
	delete(l.regs, id)
	l.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", discovery.ErrRegistrationNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("remove registration: %w", err)
	}
	return nil
}

func (l *Locator) Resolve(ctx context.Context, iface, serviceClass string) (discovery.Location, error) {
	if err := ctx.Err(); err != nil {
		return discovery.Location{}, err
	}
	if r, ok := discovery.Match(l.snapshot(), iface, serviceClass); ok {
		if _, err := os.Stat(l.path(r.ID)); err == nil {
			return r.Location, nil
		}
	}
	if err := l.rescan(); err != nil {
		return discovery.Location{}, err
	}
	if r, ok := discovery.Match(l.snapshot(), iface, serviceClass); ok {
		return r.Location, nil
	}
	return discovery.Location{}, discovery.NotFound(iface, serviceClass)
}

// Close stops the watcher. Registration files are left in place.
func (l *Locator) Close() error {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
	return nil
}

func (l *Locator) snapshot() []discovery.Registration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]discovery.Registration, 0, len(l.regs))
	for _, r := range l.regs {
		out = append(out, r)
	}
	return out
}

// rescan replaces the view with the directory contents. Unreadable or
// malformed files are skipped.
func (l *Locator) rescan() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("scan discovery dir: %w", err)
	}
	regs := make(map[string]discovery.Registration, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isRegistrationFile(e.Name()) {
			continue
		}
		r, err := readRegistration(filepath.Join(l.dir, e.Name()))
		if err != nil {
			l.log.Debug("discovery.file.skip", slog.String("file", e.Name()), slog.String("err", err.Error()))
			continue
		}
		regs[r.ID] = r
	}
	l.mu.Lock()
	l.regs = regs
	l.mu.Unlock()
	return nil
}

func (l *Locator) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer close(l.done)
	defer func() { _ = w.Close() }()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if !isRegistrationFile(name) {
				continue
			}
			id := strings.TrimSuffix(name, ext)
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				l.mu.Lock()
				delete(l.regs, id)
				l.mu.Unlock()
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				r, err := readRegistration(ev.Name)
				if err != nil {
					// Partial writes show up here; the next event or rescan catches up.
					continue
				}
				l.mu.Lock()
				l.regs[r.ID] = r
				l.mu.Unlock()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.log.Warn("discovery.file.watch.fail", slog.String("err", err.Error()))
			if err := l.rescan(); err != nil {
				l.log.Warn("discovery.file.rescan.fail", slog.String("err", err.Error()))
			}
		}
	}
}

func isRegistrationFile(name string) bool {
	return strings.HasSuffix(name, ext) && !strings.HasPrefix(name, ".")
}

func readRegistration(path string) (discovery.Registration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return discovery.Registration{}, err
	}
	var r discovery.Registration
	if err := json.Unmarshal(data, &r); err != nil {
		return discovery.Registration{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if r.ID == "" || filepath.Base(path) != r.ID+ext {
		return discovery.Registration{}, fmt.Errorf("registration %s: id mismatch", filepath.Base(path))
	}
	return r, nil
}
