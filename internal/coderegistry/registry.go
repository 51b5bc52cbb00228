// Package coderegistry resolves a job's code identifier to a callable,
// the contract spec.md §6 calls "resolve(path) -> callable" with an
// is_async flag. Grounded on the teacher's job_type -> Handler dispatch
// table (internal/jobs/runtime/registry.go): one handler per identifier,
// registration-time duplicate detection, concurrency-safe lookup.
package coderegistry

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Callable is the shape every piece of job code must implement. kwargs
// always carries the injected "_entry", "_client", and (for async code)
// "_info" keys alongside the user's own data (spec.md §4.1 step 2).
type Callable func(ctx context.Context, kwargs map[string]any) (any, error)

// Entry pairs a Callable with the is_async flag spec.md §6 requires the
// registry to report, so JobEntry.Run knows whether to hand the code a
// connectivity event queue.
type Entry struct {
	Call    Callable
	IsAsync bool
}

// Registry is the read path JobEntry.Run depends on.
type Registry interface {
	Resolve(path []string) (Entry, bool)
}

// Map is a concurrency-safe, in-process Registry. Dotted code paths
// ("foo.test") are joined with "." the same way the original source's
// "*self.code" tuple addressed a CodeRoot subtree.
type Map struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Registry = (*Map)(nil)

func NewMap() *Map {
	return &Map{entries: make(map[string]Entry)}
}

// Register binds path to an entry. Re-registering the same path is a
// configuration error and is rejected, mirroring the registry's
// "no duplicate handlers" rule in the teacher stack.
func (m *Map) Register(path []string, call Callable, isAsync bool) error {
	if call == nil {
		return fmt.Errorf("coderegistry: nil callable")
	}
	key := Key(path)
	if key == "" {
		return fmt.Errorf("coderegistry: empty path")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; exists {
		return fmt.Errorf("coderegistry: code already registered for path=%s", key)
	}
	m.entries[key] = Entry{Call: call, IsAsync: isAsync}
	return nil
}

func (m *Map) Resolve(path []string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[Key(path)]
	return e, ok
}

// Key canonicalizes a code path into the registry's lookup key.
func Key(path []string) string {
	return strings.Join(path, ".")
}
