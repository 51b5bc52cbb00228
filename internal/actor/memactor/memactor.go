// Package memactor is a test-only actor.Actor: events are pushed by the
// test driver and replayed to Recv in order. It exists so runner tests
// can deterministically script Tag/Untag/Ping/AuthPing sequences without
// a real gossip transport, matching spec.md §9's "tests inject fakes".
package memactor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/runnerkv/runner/internal/actor"
)

type Actor struct {
	cycleTimeMax time.Duration
	historySize  int

	events chan actor.Event
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	lastValue int
	enabled   bool
	quorum    int
}

var _ actor.Actor = (*Actor)(nil)

func New(cycleTimeMax time.Duration, historySize int) *Actor {
	return &Actor{
		cycleTimeMax: cycleTimeMax,
		historySize:  historySize,
		events:       make(chan actor.Event, 64),
		closed:       make(chan struct{}),
	}
}

// Push enqueues an event for the next Recv call. Safe to call from a
// test goroutine concurrently with the runner's consumer loop.
func (a *Actor) Push(evt actor.Event) {
	select {
	case a.events <- evt:
	case <-a.closed:
	}
}

func (a *Actor) Recv(ctx context.Context) (actor.Event, error) {
	select {
	case evt, ok := <-a.events:
		if !ok {
			return nil, nil
		}
		return evt, nil
	case <-a.closed:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Actor) SetValue(_ context.Context, value int) error {
	a.mu.Lock()
	a.lastValue = value
	a.mu.Unlock()
	return nil
}

func (a *Actor) LastValue() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastValue
}

func (a *Actor) Enable(_ context.Context, n int) error {
	a.mu.Lock()
	a.enabled = true
	a.quorum = n
	a.mu.Unlock()
	return nil
}

func (a *Actor) Disable(_ context.Context, n int) error {
	a.mu.Lock()
	a.enabled = false
	a.quorum = n
	a.mu.Unlock()
	return nil
}

func (a *Actor) Enabled() (bool, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled, a.quorum
}

func (a *Actor) CycleTimeMax() time.Duration { return a.cycleTimeMax }
func (a *Actor) HistorySize() int            { return a.historySize }

func (a *Actor) Close() error {
	a.once.Do(func() { close(a.closed) })
	return nil
}

var ErrClosed = errors.New("memactor: closed")
