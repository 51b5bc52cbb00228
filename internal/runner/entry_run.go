package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnerkv/runner/internal/coderegistry"
	"github.com/runnerkv/runner/internal/errsink"
	"github.com/runnerkv/runner/internal/observability"
)

// Run is JobEntry's critical section (spec.md §4.1): resolve code,
// claim ownership, execute, and record the outcome. Preconditions
// (code set, node empty) are re-checked under lock; a failed
// precondition is simply a no-op, matching the original's "nothing to
// do here" / "already running" guards.
func (e *JobEntry) Run(ctx context.Context) {
	e.mu.Lock()
	if e.code == nil || e.node != "" {
		e.mu.Unlock()
		return
	}
	code := cloneStrings(e.code)
	data := cloneData(e.data)
	repeat := e.repeat
	e.mu.Unlock()

	ctx, span := observability.Tracer().Start(ctx, "runner.job.run",
		trace.WithAttributes(attribute.String("job.path", e.Path)),
	)
	defer span.End()

	entry, ok := e.root.Code().Resolve(code)
	if !ok {
		err := fmt.Errorf("runner: no code registered for %v", code)
		span.RecordError(err)
		span.SetStatus(codes.Error, "code resolution failed")
		e.fail(ctx, errsink.KindCodeResolution, err, data, "")
		return
	}

	if entry.IsAsync {
		q := make(chan any, QLEN)
		data["_info"] = q
		if st, tracked := e.root.Connectivity(); tracked {
			select {
			case q <- st:
			default:
			}
		}
		e.mu.Lock()
		e.queue = q
		e.mu.Unlock()
	}
	data["_entry"] = e
	data["_client"] = e.root.KV()

	now := time.Now()
	e.mu.Lock()
	e.started = now
	e.node = e.root.Name()
	e.mu.Unlock()

	if err := e.persist(ctx); err != nil {
		span.RecordError(err)
		e.fail(ctx, errsink.KindPersistFailure, err, data, "")
		return
	}

	// Re-read ownership: persist() blocks until the write has been
	// fanned out through SetValue, so a concurrent rival claim (or our
	// own echoed write) has already been applied to e.node by now
	// (spec.md §4.1 step 4).
	e.mu.Lock()
	stillOurs := e.node == e.root.Name()
	e.mu.Unlock()
	if !stillOurs {
		err := errors.New("rudely taken away from us")
		span.RecordError(err)
		e.fail(ctx, errsink.KindOwnershipLoss, err, data, "")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelFn = cancel
	e.mu.Unlock()

	result, runErr := e.invoke(runCtx, entry, data)

	e.mu.Lock()
	e.cancelFn = nil
	e.queue = nil
	e.mu.Unlock()
	cancel()
	comment := e.takeComment()

	stopped := time.Now()
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		e.root.Errs().RecordExc(ctx, errsink.KindJobException, e.Path, runErr, data, comment)

		e.mu.Lock()
		e.backoff++
		if e.node == e.root.Name() {
			e.node = ""
		}
		e.stopped = stopped
		e.mu.Unlock()
	} else {
		e.mu.Lock()
		e.result = result
		e.backoff = 0
		e.node = ""
		e.stopped = stopped
		if repeat > 0 {
			e.target = stopped.Add(repeat)
		}
		e.mu.Unlock()
	}

	if err := e.persist(ctx); err != nil {
		e.root.Log().Warn("runner: could not persist entry after run", "path", e.Path, "error", err)
	}
}

// invoke calls the resolved code, converting a panic into an error so a
// misbehaving job can never take the rescan loop down with it (grounded
// on the teacher's worker.go recover-and-fail wrapper).
func (e *JobEntry) invoke(ctx context.Context, c coderegistry.Entry, data map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runner: panic in job code: %v", r)
		}
	}()
	return c.Call(ctx, data)
}

// fail is the shared path for failures that occur before the code has
// actually started running (code resolution miss, persist failure,
// ownership lost before execution): record to the error sink, advance
// backoff by exactly one, release ownership if still held, and persist.
func (e *JobEntry) fail(ctx context.Context, kind errsink.Kind, err error, data map[string]any, comment string) {
	e.root.Errs().RecordExc(ctx, kind, e.Path, err, data, comment)

	now := time.Now()
	e.mu.Lock()
	e.backoff++
	if e.node == e.root.Name() {
		e.node = ""
	}
	e.stopped = now
	e.mu.Unlock()

	if perr := e.persist(ctx); perr != nil {
		e.root.Log().Warn("runner: could not persist entry after failure", "path", e.Path, "error", perr)
	}
}
