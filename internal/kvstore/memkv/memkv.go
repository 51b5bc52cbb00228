// Package memkv is an in-process kvstore.Client used by tests and by
// single-binary deployments that don't need real replication. It
// preserves the per-path total ordering and synchronous-fanout
// semantics the runner core relies on.
package memkv

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/runnerkv/runner/internal/kvstore"
)

type pathState struct {
	mu    sync.Mutex
	value []byte
	found bool
	subs  map[int]kvstore.WatchFunc
	next  int
}

type Store struct {
	name string

	mapMu sync.Mutex
	paths map[string]*pathState
}

var _ kvstore.Client = (*Store)(nil)

func New(name string) *Store {
	return &Store{name: name, paths: make(map[string]*pathState)}
}

func (s *Store) Name() string { return s.name }

func (s *Store) stateFor(path string) *pathState {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	st, ok := s.paths[path]
	if !ok {
		st = &pathState{subs: make(map[int]kvstore.WatchFunc)}
		s.paths[path] = st
	}
	return st
}

func (s *Store) Get(_ context.Context, path string) ([]byte, bool, error) {
	st := s.stateFor(path)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.found {
		return nil, false, nil
	}
	out := make([]byte, len(st.value))
	copy(out, st.value)
	return out, true, nil
}

func (s *Store) Put(ctx context.Context, path string, value []byte) error {
	st := s.stateFor(path)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.value = append([]byte(nil), value...)
	st.found = true
	// Fan out in subscription order, synchronously, while still holding
	// this path's lock: guarantees every subscriber — including our own
	// call site — observes writes to this path in a single total order.
	ids := make([]int, 0, len(st.subs))
	for id := range st.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		st.subs[id](ctx, st.value)
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, path string, fn kvstore.WatchFunc) (func(), error) {
	st := s.stateFor(path)
	st.mu.Lock()
	id := st.next
	st.next++
	st.subs[id] = fn
	st.mu.Unlock()

	return func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
	}, nil
}

func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mapMu.Lock()
	candidates := make(map[string]*pathState)
	for p, st := range s.paths {
		if strings.HasPrefix(p, prefix) {
			candidates[p] = st
		}
	}
	s.mapMu.Unlock()

	// Paths that were only read or subscribed to have state but no
	// stored value; they are not listed.
	var out []string
	for p, st := range candidates {
		st.mu.Lock()
		found := st.found
		st.mu.Unlock()
		if found {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Close() error { return nil }
