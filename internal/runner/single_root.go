package runner

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runnerkv/runner/internal/actor"
	"github.com/runnerkv/runner/internal/coderegistry"
	"github.com/runnerkv/runner/internal/errsink"
	"github.com/runnerkv/runner/internal/kvstore"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

// SingleRunnerRoot schedules every JobEntry added to it with AddEntry;
// it does not filter entries by path, and cmd/runnerd adds every path
// under the configured RUNNER_PATH. Unlike AllRunnerRoot it doesn't wait
// for a Tag — its entries are always this node's to run — but it does derive a
// connectivity state from AuthPing traffic and pushes state transitions
// to every running job (spec.md §3, §4.2).
type SingleRunnerRoot struct {
	*RunnerRoot
	actor   actor.Actor
	nNodes  int
	history *History

	mu           sync.Mutex
	connState    State
	lastAuthPing time.Time
}

// NewSingleRunnerRoot wires a SingleRunnerRoot. nNodes is the group size
// used to derive Detached/Partial/Complete from the AuthPing history
// (spec.md §3).
func NewSingleRunnerRoot(name string, kv kvstore.Client, act actor.Actor, code coderegistry.Registry, errs errsink.Sink, log *logger.Logger, startDelay time.Duration, nNodes int) *SingleRunnerRoot {
	return &SingleRunnerRoot{
		RunnerRoot: newRunnerRoot(name, kv, code, errs, log, startDelay),
		actor:      act,
		nNodes:     nNodes,
		history:    NewHistory(act.HistorySize()),
		connState:  Detached,
	}
}

// Connectivity reports the derived state; SingleRunnerRoot is the only
// root variant that tracks one.
func (r *SingleRunnerRoot) Connectivity() (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connState, true
}

// Run starts the rescan pump immediately (this subtree is always ours)
// alongside the AuthPing-driven connectivity tracker. It returns when
// ctx is cancelled or the event loop's actor fails.
func (r *SingleRunnerRoot) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.runNow(gctx, gctx, r.Entries, nil)
		return nil
	})
	g.Go(func() error { return r.eventLoop(gctx) })
	g.Go(func() error { return r.ageNotifier(gctx) })
	return g.Wait()
}

func (r *SingleRunnerRoot) eventLoop(ctx context.Context) error {
	for {
		evt, err := r.actor.Recv(ctx)
		if err != nil {
			return err
		}
		if evt == nil {
			return ErrActorClosed
		}
		if ap, ok := evt.(actor.AuthPing); ok {
			r.mu.Lock()
			r.lastAuthPing = time.Now()
			r.mu.Unlock()
			r.history.Push(ap.Node)
			r.recomputeState()
		}
		// Ping/Tag/Untag carry no information SingleRunnerRoot acts on —
		// leadership rotation is AllRunnerRoot's concern.
	}
}

// ageNotifier re-derives connectivity state on a cycle_time_max tick
// once no AuthPing has arrived for max_age = cycle_time_max * 1.5
// (spec.md §4.5 "_age_notifier"). The state is recomputed from the
// AuthPing history, which only changes when an AuthPing arrives, so a
// silent period on its own does not change the state (a Partial state
// does not fall back to Detached without new AuthPing traffic).
func (r *SingleRunnerRoot) ageNotifier(ctx context.Context) error {
	maxAge := time.Duration(float64(r.actor.CycleTimeMax()) * 1.5)
	ticker := time.NewTicker(r.actor.CycleTimeMax())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.mu.Lock()
			silent := !r.lastAuthPing.IsZero() && time.Since(r.lastAuthPing) > maxAge
			r.mu.Unlock()
			if silent {
				r.recomputeState()
			}
		}
	}
}

func (r *SingleRunnerRoot) recomputeState() {
	snapshot := r.history.Snapshot()
	newState := ComputeState(snapshot, r.Name(), r.nNodes)

	r.mu.Lock()
	changed := newState != r.connState
	r.connState = newState
	r.mu.Unlock()

	if changed {
		r.Log().Info("runner: connectivity state changed", "state", newState.String())
		r.notifyRunning(newState)
	}
}

// notifyRunning pushes the new connectivity state to every running
// async job's event queue (spec.md §4.1's "_info" channel), so code
// that cares about being partitioned learns about it without polling.
func (r *SingleRunnerRoot) notifyRunning(state State) {
	for _, e := range r.Entries() {
		e.SendEvent(state)
	}
}

// SetCores adjusts quorum participation through the actor: a non-empty
// core set enables voting with that many members, an empty one disables
// it against the full group size (spec.md §9 "cores" config).
func (r *SingleRunnerRoot) SetCores(ctx context.Context, cores []string) error {
	if len(cores) == 0 {
		return r.actor.Disable(ctx, r.nNodes)
	}
	return r.actor.Enable(ctx, len(cores))
}
