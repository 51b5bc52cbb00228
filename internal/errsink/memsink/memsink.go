// Package memsink is an in-memory errsink.Sink for tests: every
// RecordExc call is appended to a slice the test can inspect.
package memsink

import (
	"context"
	"sync"

	"github.com/runnerkv/runner/internal/errsink"
)

type Record struct {
	Kind    errsink.Kind
	Path    string
	Err     error
	Data    map[string]any
	Comment string
}

type Sink struct {
	mu      sync.Mutex
	records []Record
}

var _ errsink.Sink = (*Sink)(nil)

func New() *Sink { return &Sink{} }

func (s *Sink) RecordExc(_ context.Context, kind errsink.Kind, path string, exc error, data map[string]any, comment string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, Record{Kind: kind, Path: path, Err: exc, Data: data, Comment: comment})
}

func (s *Sink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
