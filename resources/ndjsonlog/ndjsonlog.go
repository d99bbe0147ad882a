// Package ndjsonlog is a resource kind that appends measurement records to a
// newline-delimited JSON file. The resource name is the file path; every
// spelling of a path is normalized to its absolute form so that all clients
// logging to one file share one session.
package ndjsonlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ggoodman/session-sharing-go/registry"
)

const (
	// KindName is the registry kind served by this package.
	KindName = "ndjson-logger"
	// ServiceClass and ProvidedInterface identify the service in discovery.
	ServiceClass      = "ni.logger.JSONLogService"
	ProvidedInterface = "ni.logger.v1.json"
	// DisplayName is the human readable service name.
	DisplayName = "JSON Logger Service"

	// TimestampLayout is the UTC layout written to the timestamp field.
	TimestampLayout = "2006-01-02 15:04:05"
)

// Extensions lists the accepted file suffixes.
var Extensions = []string{".ndjson", ".log", ".txt"}

const maxLineSize = 1 << 20

// Params are the construction parameters of a log session.
type Params struct {
	Sync bool `json:"sync,omitempty" jsonschema:"description=fsync the file after every record"`
}

// Measurement is one record to append.
type Measurement struct {
	MeasurementName string            `json:"measurement_name" jsonschema:"required"`
	Timestamp       *time.Time        `json:"timestamp,omitempty" jsonschema:"description=defaults to the time the record is written"`
	Configurations  map[string]string `json:"configurations,omitempty"`
	Outputs         map[string]string `json:"outputs,omitempty"`
}

// Validate implements registry.Validator.
func (m *Measurement) Validate() error {
	if m.MeasurementName == "" {
		return fmt.Errorf("measurement_name is required")
	}
	return nil
}

// LogResult reports how many records this session has written.
type LogResult struct {
	RecordsWritten int64 `json:"records_written"`
}

// line is the on-disk shape of a record. Field order is significant.
type line struct {
	Timestamp      string            `json:"timestamp"`
	Name           string            `json:"measurement_name"`
	Configurations map[string]string `json:"measurement_configurations"`
	Outputs        map[string]string `json:"measurement_outputs"`
}

// Logger is an open log file. It is safe for concurrent use.
type Logger struct {
	path string
	sync bool
	now  func() time.Time

	mu      sync.Mutex
	f       *os.File
	written int64
}

// Kind returns the registry kind for NDJSON log files.
func Kind() registry.Kind {
	return registry.NewKind(KindName,
		func(ctx context.Context, resourceName string, p Params) (registry.Handle, error) {
			return Open(resourceName, p)
		},
		registry.WithKindDescription("Append measurement records to a newline-delimited JSON file."),
		registry.WithNameNormalizer(NormalizePath),
		registry.WithOperations(
			registry.NewOperation("log_measurement", func(ctx context.Context, l *Logger, m Measurement) (LogResult, error) {
				n, err := l.Log(m)
				return LogResult{RecordsWritten: n}, err
			}, registry.WithOperationDescription("Append one measurement record and flush it to disk.")),
		),
	)
}

// NormalizePath returns the absolute, cleaned form of path after checking
// that it carries one of the accepted extensions.
func NormalizePath(path string) (string, error) {
	if !hasValidExtension(path) {
		return "", registry.Errorf(registry.CodeInvalidArgument,
			"invalid NDJSON file %q: accepted extensions are .ndjson, .log and .txt", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", registry.Errorf(registry.CodeInvalidArgument, "resolve %q: %v", path, err)
	}
	return abs, nil
}

func hasValidExtension(path string) bool {
	ext := filepath.Ext(path)
	for _, want := range Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// Open validates any existing content of path and opens it for appending,
// creating it when absent. Existing non-blank lines must be JSON objects.
func Open(path string, p Params) (*Logger, error) {
	if !hasValidExtension(path) {
		return nil, registry.Errorf(registry.CodeInvalidArgument,
			"invalid NDJSON file %q: accepted extensions are .ndjson, .log and .txt", path)
	}
	if err := checkExisting(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{path: path, sync: p.Sync, now: time.Now, f: f}, nil
}

func checkExisting(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for sc.Scan() {
		n++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		if b[0] != '{' || !json.Valid(b) {
			return registry.Errorf(registry.CodeInvalidArgument,
				"invalid NDJSON file %q: line %d is not a JSON object", path, n)
		}
	}
	if err := sc.Err(); err != nil {
		return registry.Errorf(registry.CodeInvalidArgument, "invalid NDJSON file %q: %v", path, err)
	}
	return nil
}

// Path returns the absolute path of the log file.
func (l *Logger) Path() string { return l.path }

// Log appends m as a single line and returns the number of records this
// logger has written.
func (l *Logger) Log(m Measurement) (int64, error) {
	ts := l.now()
	if m.Timestamp != nil {
		ts = *m.Timestamp
	}
	rec := line{
		Timestamp:      ts.UTC().Format(TimestampLayout),
		Name:           m.MeasurementName,
		Configurations: nonNil(m.Configurations),
		Outputs:        nonNil(m.Outputs),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(b); err != nil {
		return l.written, fmt.Errorf("write %s: %w", l.path, err)
	}
	if l.sync {
		if err := l.f.Sync(); err != nil {
			return l.written, fmt.Errorf("sync %s: %w", l.path, err)
		}
	}
	l.written++
	return l.written, nil
}

// Close implements registry.Handle.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
