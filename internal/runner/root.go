package runner

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runnerkv/runner/internal/coderegistry"
	"github.com/runnerkv/runner/internal/errsink"
	"github.com/runnerkv/runner/internal/kvstore"
	"github.com/runnerkv/runner/internal/observability"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

// RunnerRoot is the shared scaffolding both AllRunnerRoot and
// SingleRunnerRoot embed (spec.md §4.3): entry bookkeeping, the trigger
// event, and the rescan pump. It never runs unsupervised — a concrete
// variant drives it by calling runNow with its own notion of "which
// entries are mine to schedule".
type RunnerRoot struct {
	name       string
	kv         kvstore.Client
	code       coderegistry.Registry
	errs       errsink.Sink
	log        *logger.Logger
	startDelay time.Duration

	mu          sync.Mutex
	entries     map[string]*JobEntry
	unsubscribe map[string]func()
	triggerCh   chan struct{}

	rescanCancel context.CancelFunc
}

// newRunnerRoot is shared construction; concrete variants call this from
// their own constructors.
func newRunnerRoot(name string, kv kvstore.Client, code coderegistry.Registry, errs errsink.Sink, log *logger.Logger, startDelay time.Duration) *RunnerRoot {
	if name == "" {
		name = kv.Name()
	}
	return &RunnerRoot{
		name:        name,
		kv:          kv,
		code:        code,
		errs:        errs,
		log:         log.With("component", "RunnerRoot", "node", name),
		startDelay:  startDelay,
		entries:     make(map[string]*JobEntry),
		unsubscribe: make(map[string]func()),
		triggerCh:   make(chan struct{}, 1),
	}
}

func (r *RunnerRoot) Name() string               { return r.name }
func (r *RunnerRoot) KV() kvstore.Client         { return r.kv }
func (r *RunnerRoot) Code() coderegistry.Registry { return r.code }
func (r *RunnerRoot) Errs() errsink.Sink         { return r.errs }
func (r *RunnerRoot) Log() *logger.Logger        { return r.log }

// Connectivity is overridden (by composition, not inheritance) by
// SingleRunnerRoot.Connectivity. AllRunnerRoot uses this base
// implementation, which reports "not tracked": it never derives a
// connectivity state (spec.md §4.4 has none).
func (r *RunnerRoot) Connectivity() (State, bool) { return Detached, false }

// AddEntry registers a JobEntry at path, subscribing it to KV updates.
// Safe to call concurrently; re-adding an existing path is a no-op that
// returns the existing entry.
func (r *RunnerRoot) AddEntry(ctx context.Context, path string, owner entryRoot) (*JobEntry, error) {
	r.mu.Lock()
	if existing, ok := r.entries[path]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	e := NewJobEntry(owner, path)
	unsub, err := r.kv.Subscribe(ctx, path, e.SetValue)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.entries[path]; ok {
		// A concurrent AddEntry for the same path won the race.
		r.mu.Unlock()
		unsub()
		return existing, nil
	}
	r.entries[path] = e
	r.unsubscribe[path] = unsub
	r.mu.Unlock()
	return e, nil
}

// RemoveEntry unsubscribes and forgets path.
func (r *RunnerRoot) RemoveEntry(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if unsub, ok := r.unsubscribe[path]; ok {
		unsub()
		delete(r.unsubscribe, path)
	}
	delete(r.entries, path)
}

// Entries returns every currently registered JobEntry.
func (r *RunnerRoot) Entries() []*JobEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*JobEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// TriggerRescan wakes the rescan loop, coalescing concurrent triggers
// into a single wakeup (spec.md §4.3).
func (r *RunnerRoot) TriggerRescan() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// runNow is the `_run_now` pump (spec.md §4.3, §4.6): walk entries,
// spawn what's due pacing by startDelay, then sleep until the trigger
// fires or the next entry comes due, whichever is first.
//
// pumpParent governs the pump loop itself: runNow wraps it in its own
// cancellable context, stored so a variant (AllRunnerRoot on Untag) can
// stop the pump without touching anything already running. jobParent is
// what spawned JobEntry.Run calls are actually rooted in — deliberately
// a separate, longer-lived context so cancelling the pump never cascades
// into in-flight jobs (spec.md §4.4: "Running jobs continue ... Untag
// ... only stops starting new work", mirroring the original's outer
// `self.tg` nursery being isolated from `_run_now`'s own cancel scope).
func (r *RunnerRoot) runNow(pumpParent, jobParent context.Context, entries func() []*JobEntry, started chan<- struct{}) {
	ctx, cancel := context.WithCancel(pumpParent)
	r.mu.Lock()
	r.rescanCancel = cancel
	r.mu.Unlock()
	defer cancel()

	if started != nil {
		close(started)
	}

	for {
		select {
		case <-r.triggerCh:
		default:
		}

		// The span (and the errgroup it seeds gctx from) is rooted in
		// jobParent, not the pump's own ctx: job tasks must keep running
		// even after the pump is cancelled, so nothing about spawning them
		// may be derived from ctx.
		spanCtx, span := observability.Tracer().Start(jobParent, "runner.rescan")
		g, gctx := errgroup.WithContext(spanCtx)
		var spawned int

		now := time.Now()
		nextDue := -1 * time.Second // sentinel: "no upcoming due entry seen yet"
		for _, e := range entries() {
			d := e.ShouldStart(now)
			if !d.Runnable {
				continue
			}
			if d.Wait <= 0 {
				entry := e
				g.Go(func() error {
					entry.Run(gctx)
					return nil
				})
				spawned++
				select {
				case <-time.After(r.startDelay):
				case <-ctx.Done():
				}
				continue
			}
			if nextDue < 0 || d.Wait < nextDue {
				nextDue = d.Wait
			}
		}
		span.End()

		// Don't block the pump on in-flight runs: runNow's job is to
		// notice new work, not to wait for old work to finish. Collect
		// results in the background so a panic-turned-nil-error never
		// surfaces anywhere that would stall scheduling.
		if spawned > 0 {
			go func() { _ = g.Wait() }()
		}

		wait := nextDue
		if wait < 0 {
			wait = 24 * time.Hour
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-r.triggerCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// cancelRunNow stops the currently running rescan pump, if any
// (spec.md §4.4 UntagEvent: "Cancel the _run_now scope").
func (r *RunnerRoot) cancelRunNow() {
	r.mu.Lock()
	cancel := r.rescanCancel
	r.rescanCancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
