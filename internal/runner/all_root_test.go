package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerkv/runner/internal/actor"
	"github.com/runnerkv/runner/internal/actor/memactor"
	"github.com/runnerkv/runner/internal/coderegistry"
	"github.com/runnerkv/runner/internal/errsink/memsink"
	"github.com/runnerkv/runner/internal/kvstore/memkv"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

func TestAllRunnerRoot_RunsOnlyWhileTagged(t *testing.T) {
	kv := memkv.New("n1")
	act := memactor.New(20*time.Millisecond, 5)
	root := NewAllRunnerRoot("n1", kv, act, coderegistry.NewMap(), memsink.New(), logger.Nop(), time.Millisecond, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- root.Run(ctx) }()

	e, err := root.AddEntry(ctx, "/jobs/a", root)
	require.NoError(t, err)
	require.NoError(t, e.Configure(ctx, []string{"missing"}, map[string]any{}, time.Now(), 0, time.Millisecond))

	// Not tagged yet: the rescan pump shouldn't be running, so the entry
	// is never even attempted.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, e.Backoff())

	act.Push(actor.Tag{})
	require.Eventually(t, func() bool {
		return e.Backoff() > 0
	}, time.Second, 5*time.Millisecond, "entry should have been attempted once tagged")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestAllRunnerRoot_AgeKillerFiresWithoutTag(t *testing.T) {
	kv := memkv.New("n1")
	act := memactor.New(5*time.Millisecond, 5)
	root := NewAllRunnerRoot("n1", kv, act, coderegistry.NewMap(), memsink.New(), logger.Nop(), time.Millisecond, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := root.Run(ctx)
	var notSelected *NotSelected
	require.ErrorAs(t, err, &notSelected)
}

func TestAllRunnerRoot_CleanupReleasesGhostOwnedEntry(t *testing.T) {
	kv := memkv.New("n1")
	act := memactor.New(time.Millisecond, 2) // short cycle time so a one-hour-old node reads as stale
	root := NewAllRunnerRoot("n1", kv, act, coderegistry.NewMap(), memsink.New(), logger.Nop(), time.Millisecond, false)

	ctx := context.Background()
	e, err := root.AddEntry(ctx, "/jobs/ghost", root)
	require.NoError(t, err)
	e.node = "gone-node"

	root.history.Push("gone-node")
	root.history.Push("n1")
	node := root.nodes.Get("gone-node")
	node.Touch(0)
	// Force the node to look stale without waiting a full cycle.
	node.mu.Lock()
	node.seen = time.Now().Add(-time.Hour)
	node.mu.Unlock()

	root.cleanupNodes(ctx)

	assert.Equal(t, "", e.Node())
}

// TestAllRunnerRoot_UntagDoesNotCancelRunningJob pins down spec.md
// §4.4/§5's "running jobs continue" guarantee: losing the Tag stops the
// rescan pump from starting new work, but must not cancel a job already
// in flight on this node (the default, cancelOnUntag=false).
func TestAllRunnerRoot_UntagDoesNotCancelRunningJob(t *testing.T) {
	kv := memkv.New("n1")
	act := memactor.New(time.Hour, 5)
	reg := coderegistry.NewMap()

	started := make(chan struct{})
	release := make(chan struct{})
	mustRegister(t, reg, []string{"long"}, func(ctx context.Context, kwargs map[string]any) (any, error) {
		close(started)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return "finished", nil
		}
	}, false)

	root := NewAllRunnerRoot("n1", kv, act, reg, memsink.New(), logger.Nop(), time.Millisecond, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = root.Run(ctx) }()

	e, err := root.AddEntry(ctx, "/jobs/long", root)
	require.NoError(t, err)
	require.NoError(t, e.Configure(ctx, []string{"long"}, map[string]any{}, time.Now(), 0, time.Second))

	act.Push(actor.Tag{})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	act.Push(actor.Untag{})
	// Give onUntag time to run and (incorrectly, if the bug regresses)
	// cascade a cancellation into the running job.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, "n1", e.Node(), "job should still be recorded as running after a plain Untag")
	assert.Equal(t, 0, e.Backoff(), "job should not have failed/cancelled from Untag alone")

	close(release)
	require.Eventually(t, func() bool {
		return e.Result() == "finished"
	}, time.Second, 5*time.Millisecond, "job should complete normally once released")
}

// TestAllRunnerRoot_CancelOnUntagCancelsRunningJob exercises the "hard
// Detag" open question from spec.md §9, resolved true via
// cancelOnUntag: Untag should cancel in-flight jobs on this node too.
func TestAllRunnerRoot_CancelOnUntagCancelsRunningJob(t *testing.T) {
	kv := memkv.New("n1")
	act := memactor.New(time.Hour, 5)
	reg := coderegistry.NewMap()

	started := make(chan struct{})
	mustRegister(t, reg, []string{"long"}, func(ctx context.Context, kwargs map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}, false)

	root := NewAllRunnerRoot("n1", kv, act, reg, memsink.New(), logger.Nop(), time.Millisecond, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = root.Run(ctx) }()

	e, err := root.AddEntry(ctx, "/jobs/long", root)
	require.NoError(t, err)
	require.NoError(t, e.Configure(ctx, []string{"long"}, map[string]any{}, time.Now(), 0, time.Second))

	act.Push(actor.Tag{})
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	act.Push(actor.Untag{})
	require.Eventually(t, func() bool {
		return e.Backoff() > 0
	}, time.Second, 5*time.Millisecond, "hard Detag should have cancelled the running job")
	assert.Equal(t, "", e.Node())
}

func TestAllRunnerRoot_MaxAgeUsesHistorySize(t *testing.T) {
	kv := memkv.New("n1")
	act := memactor.New(10*time.Millisecond, 4)
	root := NewAllRunnerRoot("n1", kv, act, coderegistry.NewMap(), memsink.New(), logger.Nop(), time.Millisecond, false)

	want := time.Duration(float64(10*time.Millisecond) * 5.5)
	assert.Equal(t, want, root.maxAge())
}

// TestAllRunnerRoot_TagReportsLoadAndHistory checks spec.md §4.4's
// TagEvent steps 1-2: load gets reported to the actor and this node's
// name lands in node_history, every Tag cycle.
func TestAllRunnerRoot_TagReportsLoadAndHistory(t *testing.T) {
	kv := memkv.New("n1")
	act := memactor.New(time.Hour, 5)
	root := NewAllRunnerRoot("n1", kv, act, coderegistry.NewMap(), memsink.New(), logger.Nop(), time.Millisecond, false)
	root.SetLoadReporter(func() int { return 77 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = root.Run(ctx) }()

	act.Push(actor.Tag{})
	require.Eventually(t, func() bool {
		return act.LastValue() == 77
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		snap := root.history.Snapshot()
		return len(snap) > 0 && snap[len(snap)-1] == "n1"
	}, time.Second, 5*time.Millisecond)
}
