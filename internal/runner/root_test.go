package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerkv/runner/internal/coderegistry"
	"github.com/runnerkv/runner/internal/errsink/memsink"
	"github.com/runnerkv/runner/internal/kvstore/memkv"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

func newTestRunnerRoot(name string) *RunnerRoot {
	return newRunnerRoot(name, memkv.New(name), coderegistry.NewMap(), memsink.New(), logger.Nop(), 0)
}

func TestRunnerRoot_AddEntryIsIdempotent(t *testing.T) {
	r := newTestRunnerRoot("n1")
	ctx := context.Background()

	e1, err := r.AddEntry(ctx, "/jobs/a", r)
	require.NoError(t, err)
	e2, err := r.AddEntry(ctx, "/jobs/a", r)
	require.NoError(t, err)

	assert.Same(t, e1, e2)
	assert.Len(t, r.Entries(), 1)
}

func TestRunnerRoot_RemoveEntryUnsubscribes(t *testing.T) {
	r := newTestRunnerRoot("n1")
	ctx := context.Background()

	_, err := r.AddEntry(ctx, "/jobs/a", r)
	require.NoError(t, err)
	require.Len(t, r.Entries(), 1)

	r.RemoveEntry("/jobs/a")
	assert.Empty(t, r.Entries())
}

func TestRunnerRoot_TriggerRescanCoalesces(t *testing.T) {
	r := newTestRunnerRoot("n1")
	r.TriggerRescan()
	r.TriggerRescan()
	r.TriggerRescan()

	assert.Len(t, r.triggerCh, 1)
}
