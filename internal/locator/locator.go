// Package locator opens a discovery backend by name for the command line tools.
package locator

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ggoodman/session-sharing-go/discovery"
	"github.com/ggoodman/session-sharing-go/discovery/file"
	"github.com/ggoodman/session-sharing-go/discovery/memory"
	"github.com/ggoodman/session-sharing-go/discovery/redis"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Backends lists the accepted backend names.
func Backends() []string {
	return []string{BackendFile, BackendRedis, BackendMemory, BackendNone}
}

// DefaultDir is the registration directory shared by processes on one host
// when none is configured.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "session-registry", "discovery")
	}
	return filepath.Join(os.TempDir(), "session-registry", "discovery")
}

// Open returns the named backend. The redis backend reads REDIS_ADDR and
// DISCOVERY_KEY_PREFIX from the environment. BackendNone returns a nil
// Locator and no error.
func Open(backend, dir string, log *slog.Logger) (discovery.Locator, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case BackendFile, "":
		if dir == "" {
			dir = DefaultDir()
		}
		return file.New(dir, file.WithLogger(log))
	case BackendRedis:
		return redis.NewFromEnv()
	case BackendMemory:
		return memory.New(), nil
	case BackendNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown discovery backend %q (want one of %s)", backend, strings.Join(Backends(), ", "))
	}
}
