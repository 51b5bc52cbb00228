package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SetValue applies a KV replication of this entry's attributes and, if a
// task is currently running on this node, decides whether it must be
// cancelled (spec.md §4.1's set_value table). It is the WatchFunc this
// entry registers with its root's KV client, so it fires for every
// write to e.Path — including the echo of this node's own writes.
func (e *JobEntry) SetValue(ctx context.Context, raw []byte) {
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		e.root.Log().Warn("runner: dropping malformed KV update", "path", e.Path, "error", err)
		return
	}

	e.mu.Lock()
	oldNode := e.node
	oldCode := e.code
	running := e.cancelFn != nil

	e.code = cloneStrings(p.Code)
	e.data = p.Data
	if e.data == nil {
		e.data = map[string]any{}
	}
	e.started = fromEpoch(p.Started)
	e.stopped = fromEpoch(p.Stopped)
	e.result = p.Result
	e.node = p.Node
	e.backoff = p.Backoff
	e.delay = secondsToDuration(p.Delay)
	e.repeat = secondsToDuration(p.Repeat)
	e.target = fromEpoch(p.Target)

	newNode := e.node
	newCode := e.code
	cancelFn := e.cancelFn
	e.mu.Unlock()

	// "if self.scope is None: return" — nothing to cancel unless this
	// node currently holds the running task for this entry.
	if !running {
		e.root.TriggerRescan()
		return
	}

	switch {
	case !equalStrings(oldCode, newCode):
		e.setComment("Cancel: Code changed")
		cancelFn()
	case newNode == oldNode:
		// nothing changed from this node's perspective
	case oldNode == e.root.Name() && newNode == "":
		// ownership was released, not handed to another node — no action
	case oldNode == e.root.Name():
		// our job got taken away from us
		e.setComment(fmt.Sprintf("Cancel: Node set to %q", newNode))
		cancelFn()
	case oldNode != "":
		e.root.Log().Warn("runner: running but recorded node diverged", "path", e.Path, "node", oldNode)
	}
	// else: oldNode == "" means this is the echo of the write that just
	// claimed the job — no action.

	e.root.TriggerRescan()
}

func (e *JobEntry) setComment(c string) {
	e.mu.Lock()
	e.comment = c
	e.mu.Unlock()
}

func (e *JobEntry) takeComment() string {
	e.mu.Lock()
	c := e.comment
	e.comment = ""
	e.mu.Unlock()
	return c
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
