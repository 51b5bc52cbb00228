// Package runner implements the job-runner core: JobEntry scheduling
// and retry state machine, NodeRegistry, the shared rescan loop, and
// the AllRunnerRoot/SingleRunnerRoot ownership variants (spec.md §4).
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/runnerkv/runner/internal/coderegistry"
	"github.com/runnerkv/runner/internal/errsink"
	"github.com/runnerkv/runner/internal/kvstore"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

// QLEN is the bounded capacity of a running async job's inbound event
// queue (spec.md §3, §5).
const QLEN = 10

// entryRoot is the non-owning handle a JobEntry holds back to its root
// (design note in spec.md §9: "entries hold a back-reference as a
// non-owning handle"). Both AllRunnerRoot and SingleRunnerRoot satisfy it
// via the shared RunnerRoot base.
type entryRoot interface {
	Name() string
	KV() kvstore.Client
	Code() coderegistry.Registry
	Errs() errsink.Sink
	Log() *logger.Logger
	TriggerRescan()
	// Connectivity reports the current connectivity state and whether
	// this root variant tracks one at all (only SingleRunnerRoot does).
	Connectivity() (state State, tracked bool)
}

// persisted is the wire shape of a JobEntry's KV-replicated attributes
// (spec.md §6 "KV entry schema"). Unknown keys are ignored by
// json.Unmarshal already; missing keys simply keep Go's zero value,
// matching "missing keys default as in §3".
type persisted struct {
	Code    []string       `json:"code,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Started int64          `json:"started,omitempty"`
	Stopped int64          `json:"stopped,omitempty"`
	Result  any            `json:"result,omitempty"`
	Node    string         `json:"node,omitempty"`
	Backoff int            `json:"backoff,omitempty"`
	Delay   float64        `json:"delay,omitempty"`
	Repeat  float64        `json:"repeat,omitempty"`
	Target  int64          `json:"target,omitempty"`
}

// JobEntry is a persisted job descriptor plus the in-memory execution
// handle for one job (spec.md §3, §4.1).
type JobEntry struct {
	Path string

	root entryRoot

	mu      sync.Mutex
	code    []string
	data    map[string]any
	target  time.Time
	repeat  time.Duration
	delay   time.Duration
	backoff int
	started time.Time
	stopped time.Time
	result  any
	node    string

	// transient execution state
	cancelFn context.CancelFunc
	queue    chan any
	comment  string
}

// NewJobEntry constructs an idle entry bound to a root. It does not
// subscribe the entry to KV updates for Path; RunnerRoot.AddEntry does
// that and keeps the unsubscribe func for RemoveEntry.
func NewJobEntry(root entryRoot, path string) *JobEntry {
	return &JobEntry{
		Path:  path,
		root:  root,
		data:  map[string]any{},
		delay: 100 * time.Second,
	}
}

// Decision is the outcome of ShouldStart (spec.md §4.1).
type Decision struct {
	// Runnable is false for "do-not-start": no code, or already running.
	Runnable bool
	// Wait <= 0 means start now; Wait > 0 means check back in that long.
	Wait time.Duration
}

// ShouldStart implements the scheduling rule in spec.md §4.1.
func (e *JobEntry) ShouldStart(now time.Time) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.code == nil || e.node != "" {
		return Decision{Runnable: false}
	}
	if e.target.After(e.started) {
		return Decision{Runnable: true, Wait: e.target.Sub(now)}
	}
	if e.backoff > 0 {
		due := e.stopped.Add(e.delay * (1 << uint(e.backoff)))
		return Decision{Runnable: true, Wait: due.Sub(now)}
	}
	return Decision{Runnable: false}
}

// RunAt sets the next start time and persists it (spec.md §4.1).
func (e *JobEntry) RunAt(ctx context.Context, t time.Time) error {
	e.mu.Lock()
	e.target = t
	e.mu.Unlock()
	return e.persist(ctx)
}

// SeemsDown clears ownership without running the failure path — used by
// ghost-ownership cleanup when a node has disappeared (spec.md §4.4).
func (e *JobEntry) SeemsDown(ctx context.Context) error {
	e.mu.Lock()
	e.node = ""
	e.mu.Unlock()
	return e.persist(ctx)
}

// SendEvent delivers a connectivity update to a running async job, with
// the overflow-sentinel policy from spec.md §4.1: once the queue is
// within one slot of full, push a terminal nil and stop sending.
func (e *JobEntry) SendEvent(evt any) {
	e.mu.Lock()
	q := e.queue
	e.mu.Unlock()
	if q == nil {
		return
	}
	switch {
	case len(q) < QLEN-1:
		select {
		case q <- evt:
		default:
		}
	case len(q) == QLEN-1:
		select {
		case q <- nil:
		default:
		}
		e.mu.Lock()
		e.queue = nil
		e.mu.Unlock()
	}
}

// Cancel requests that a currently-running task on this entry stop,
// recording comment as the reason Run's cleanup path will report to the
// error sink. A no-op if nothing is running here. Used by callers that
// need to tear down in-flight work outside the normal set_value path —
// e.g. a hard Detag (spec.md §9, SPEC_FULL.md §4 "cancel_on_untag").
func (e *JobEntry) Cancel(comment string) {
	e.mu.Lock()
	cancel := e.cancelFn
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	e.setComment(comment)
	cancel()
}

// Snapshot fields, read under lock, for callers (rescan loop, tests) that
// need to inspect state without reaching into the entry's internals.
func (e *JobEntry) Node() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.node
}

func (e *JobEntry) Backoff() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backoff
}

func (e *JobEntry) Result() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

func (e *JobEntry) Started() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *JobEntry) Stopped() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *JobEntry) HasCode() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.code != nil
}

// Configure sets the descriptor fields a caller uses to create/update a
// job directly (as opposed to via a KV replication event). It persists
// the result.
func (e *JobEntry) Configure(ctx context.Context, code []string, data map[string]any, target time.Time, repeat, delay time.Duration) error {
	e.mu.Lock()
	e.code = code
	e.data = data
	e.target = target
	e.repeat = repeat
	e.delay = delay
	e.mu.Unlock()
	return e.persist(ctx)
}

func (e *JobEntry) persist(ctx context.Context) error {
	e.mu.Lock()
	p := persisted{
		Code:    e.code,
		Data:    e.data,
		Started: epoch(e.started),
		Stopped: epoch(e.stopped),
		Result:  e.result,
		Node:    e.node,
		Backoff: e.backoff,
		Delay:   e.delay.Seconds(),
		Repeat:  e.repeat.Seconds(),
		Target:  epoch(e.target),
	}
	e.mu.Unlock()

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("runner: marshal entry %s: %w", e.Path, err)
	}
	return e.root.KV().Put(ctx, e.Path, raw)
}

func epoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromEpoch(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
