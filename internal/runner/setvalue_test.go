package runner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetValue_CodeChangeCancelsRunningJob(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")
	e.code = []string{"old"}
	e.node = "n1"

	cancelled := false
	e.cancelFn = func() { cancelled = true }

	raw, err := json.Marshal(persisted{Code: []string{"new"}, Node: "n1"})
	require.NoError(t, err)

	e.SetValue(context.Background(), raw)

	assert.True(t, cancelled)
	assert.Equal(t, "Cancel: Code changed", e.takeComment())
	assert.Equal(t, 1, root.trigger)
}

func TestSetValue_NodeTakenAwayCancelsRunningJob(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")
	e.code = []string{"same"}
	e.node = "n1"

	cancelled := false
	e.cancelFn = func() { cancelled = true }

	raw, err := json.Marshal(persisted{Code: []string{"same"}, Node: "rival"})
	require.NoError(t, err)

	e.SetValue(context.Background(), raw)

	assert.True(t, cancelled)
	assert.Contains(t, e.takeComment(), "rival")
}

func TestSetValue_SameNodeNoCancel(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")
	e.code = []string{"same"}
	e.node = "n1"

	cancelled := false
	e.cancelFn = func() { cancelled = true }

	raw, err := json.Marshal(persisted{Code: []string{"same"}, Node: "n1", Backoff: 3})
	require.NoError(t, err)

	e.SetValue(context.Background(), raw)

	assert.False(t, cancelled)
	assert.Equal(t, 3, e.Backoff())
}

func TestSetValue_NotRunningNeverCancels(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")
	// e.cancelFn is nil: nothing running on this node for this entry.

	raw, err := json.Marshal(persisted{Code: []string{"whatever"}, Node: "someone-else", Target: time.Now().Unix()})
	require.NoError(t, err)

	e.SetValue(context.Background(), raw)

	assert.Equal(t, "someone-else", e.Node())
	assert.Equal(t, 1, root.trigger)
}

func TestSetValue_MalformedPayloadDropped(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")
	e.code = []string{"keep"}

	e.SetValue(context.Background(), []byte("{not json"))

	assert.Equal(t, []string{"keep"}, e.code)
	assert.Equal(t, 0, root.trigger)
}
