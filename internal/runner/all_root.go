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

// AllRunnerRoot schedules every JobEntry in the whole KV tree, but only
// while this node holds the Tag: leadership is driven entirely by the
// actor's Ping/Tag/Untag gossip (spec.md §4.2). It also maintains the
// NodeRegistry from Ping traffic and runs the starvation watchdog and
// ghost-ownership cleanup described in spec.md §4.4 and §7.
type AllRunnerRoot struct {
	*RunnerRoot
	actor         actor.Actor
	nodes         *Registry
	history       *History
	cancelOnUntag bool

	loadMu       sync.Mutex
	loadReporter LoadReporter

	state   sync.Mutex
	tagged  bool
	lastTag time.Time
}

// NewAllRunnerRoot wires an AllRunnerRoot against its collaborators. The
// actor supplies both the gossip event stream and the cycle-time/history
// parameters that size the watchdogs. cancelOnUntag selects the "hard
// Detag" behavior (SPEC_FULL.md §4): when true, losing the Tag cancels
// every in-flight job on this node, not just the rescan pump.
func NewAllRunnerRoot(name string, kv kvstore.Client, act actor.Actor, code coderegistry.Registry, errs errsink.Sink, log *logger.Logger, startDelay time.Duration, cancelOnUntag bool) *AllRunnerRoot {
	return &AllRunnerRoot{
		RunnerRoot:    newRunnerRoot(name, kv, code, errs, log, startDelay),
		actor:         act,
		nodes:         NewRegistry(),
		history:       NewHistory(act.HistorySize()),
		cancelOnUntag: cancelOnUntag,
		loadReporter:  DefaultLoadReporter,
	}
}

// SetLoadReporter overrides the default free-capacity heuristic reported
// to the actor on Ping/Tag (SPEC_FULL.md §4 "Load reporting to the
// actor"). Deployments with a real CPU sampler can plug one in here.
func (r *AllRunnerRoot) SetLoadReporter(fn LoadReporter) {
	r.loadMu.Lock()
	r.loadReporter = fn
	r.loadMu.Unlock()
}

func (r *AllRunnerRoot) reportLoad(ctx context.Context) {
	r.loadMu.Lock()
	fn := r.loadReporter
	r.loadMu.Unlock()
	if fn == nil {
		return
	}
	if err := r.actor.SetValue(ctx, fn()); err != nil {
		r.Log().Warn("runner: failed to report load to actor", "error", err)
	}
}

// Run drives the event loop for the lifetime of ctx: consume actor
// events, maintain the node registry, start/stop the rescan pump on
// Tag/Untag, and fail with NotSelected if max_age elapses without a Tag.
// It returns when ctx is cancelled or a sub-task returns a non-nil error.
//
// gctx (the errgroup's derived context) is what every rescan-spawned
// JobEntry.Run is ultimately rooted in — it only cancels on a genuine
// fatal condition (ctx done, or a sibling task failing), never on a
// plain Untag, so "running jobs continue" holds across leadership
// churn (spec.md §4.4, §5).
func (r *AllRunnerRoot) Run(ctx context.Context) error {
	r.state.Lock()
	r.lastTag = time.Now()
	r.state.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.ageKiller(gctx) })
	g.Go(func() error { return r.eventLoop(gctx) })
	g.Go(func() error { return r.cleanupLoop(gctx) })
	return g.Wait()
}

func (r *AllRunnerRoot) eventLoop(ctx context.Context) error {
	for {
		evt, err := r.actor.Recv(ctx)
		if err != nil {
			return err
		}
		if evt == nil {
			return ErrActorClosed
		}
		switch e := evt.(type) {
		case actor.Ping:
			node := r.nodes.Get(e.Node)
			node.Touch(e.Value)
			r.history.Push(e.Node)
			r.reportLoad(ctx)
		case actor.Tag:
			r.onTag(ctx)
		case actor.Untag:
			r.onUntag()
		case actor.AuthPing:
			// Connectivity derivation from AuthPing belongs to
			// SingleRunnerRoot (spec.md §3); AllRunnerRoot has no
			// connectivity state of its own.
			_ = e
		}
	}
}

// onTag marks this node as leader, refreshes the watchdog deadline,
// reports load and records itself in node_history on every Tag, and on
// the rising edge also starts the rescan pump (spec.md §4.4 TagEvent
// steps 1-3). Repeated Tags while already leading do not start a second
// pump.
//
// ctx is the long-lived context threaded in from Run's errgroup, not a
// context runNow itself owns; runNow wraps its own pump-cancellable
// layer around it internally while rooting spawned jobs in this same
// ctx, so cancelRunNow (called from onUntag) can never reach them.
func (r *AllRunnerRoot) onTag(ctx context.Context) {
	r.state.Lock()
	wasTagged := r.tagged
	r.tagged = true
	r.lastTag = time.Now()
	r.state.Unlock()

	r.reportLoad(ctx)
	r.history.Push(r.Name())

	if !wasTagged {
		r.Log().Info("runner: tagged as leader, starting rescan pump")
		go r.runNow(ctx, ctx, r.Entries, nil)
	}
}

// onUntag cancels the rescan pump (spec.md §4.4 UntagEvent): no new jobs
// get started, but jobs already in flight on this node are left alone by
// default — SetValue's own cancellation table (triggered by the next
// node change it observes) is what eventually tears those down. When
// cancelOnUntag is set, this is the "hard Detag" described in
// SPEC_FULL.md §4: every job this node currently owns is cancelled
// immediately instead of waiting for a KV round-trip.
func (r *AllRunnerRoot) onUntag() {
	r.state.Lock()
	r.tagged = false
	r.state.Unlock()
	r.Log().Info("runner: untagged, stopping rescan pump")
	r.cancelRunNow()

	if r.cancelOnUntag {
		r.cancelRunningJobs()
	}
}

// cancelRunningJobs cancels every JobEntry currently owned by this node
// (spec.md §9 "hard Detag" open question, resolved true by
// cancelOnUntag).
func (r *AllRunnerRoot) cancelRunningJobs() {
	for _, e := range r.Entries() {
		if e.Node() != r.Name() {
			continue
		}
		e.Cancel("Cancel: Untagged (hard detag)")
	}
}

// maxAge is spec.md §4.4's watchdog/ghost-cleanup grace period:
// cycle_time_max * (history_size + 1.5).
func (r *AllRunnerRoot) maxAge() time.Duration {
	factor := float64(r.actor.HistorySize()) + 1.5
	return time.Duration(float64(r.actor.CycleTimeMax()) * factor)
}

// ageKiller raises NotSelected if this node goes longer than max_age
// without receiving a Tag — a sign the gossip layer has partitioned this
// node away from the group (spec.md §4.4, §7 "Starvation").
func (r *AllRunnerRoot) ageKiller(ctx context.Context) error {
	maxAge := r.maxAge()
	ticker := time.NewTicker(r.actor.CycleTimeMax())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.state.Lock()
			age := time.Since(r.lastTag)
			r.state.Unlock()
			if age > maxAge {
				return &NotSelected{MaxAge: maxAge.String()}
			}
		}
	}
}

// cleanupLoop periodically evicts nodes that have gone silent for
// longer than max_age and releases ownership of any JobEntry still
// recorded against them (spec.md §4.4 "_cleanup_nodes"): a node that
// vanished mid-run left its jobs looking permanently owned, so this is
// what lets them be picked up again.
func (r *AllRunnerRoot) cleanupLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.actor.CycleTimeMax())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.cleanupNodes(ctx)
		}
	}
}

func (r *AllRunnerRoot) cleanupNodes(ctx context.Context) {
	staleAfter := r.maxAge()
	now := time.Now()

	for {
		oldest, ok := r.history.PopOldest()
		if !ok {
			return
		}
		node := r.nodes.Get(oldest)
		if node.Age(now) <= staleAfter {
			// Not actually stale — put it back and stop; everything
			// younger than this one is even fresher.
			r.history.Push(oldest)
			return
		}
		r.Log().Warn("runner: node appears gone, releasing its jobs", "node", oldest, "age", node.Age(now))
		r.markDown(ctx, oldest)
	}
}

func (r *AllRunnerRoot) markDown(ctx context.Context, name string) {
	for _, e := range r.Entries() {
		if e.Node() != name {
			continue
		}
		if err := e.SeemsDown(ctx); err != nil {
			r.Log().Warn("runner: failed to release ghost-owned entry", "path", e.Path, "node", name, "error", err)
		}
	}
}
