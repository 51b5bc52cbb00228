package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerkv/runner/internal/coderegistry"
	"github.com/runnerkv/runner/internal/errsink"
	"github.com/runnerkv/runner/internal/errsink/memsink"
	"github.com/runnerkv/runner/internal/kvstore"
	"github.com/runnerkv/runner/internal/kvstore/memkv"
	"github.com/runnerkv/runner/internal/pkg/logger"
)

// fakeRoot is the minimal entryRoot a JobEntry needs for tests that
// don't exercise a full RunnerRoot/AllRunnerRoot/SingleRunnerRoot.
type fakeRoot struct {
	name    string
	kv      kvstore.Client
	code    coderegistry.Registry
	errs    errsink.Sink
	log     *logger.Logger
	trigger int
	state   State
	tracked bool
}

func newFakeRoot(t *testing.T, name string) *fakeRoot {
	t.Helper()
	return &fakeRoot{
		name: name,
		kv:   memkv.New(name),
		code: coderegistry.NewMap(),
		errs: memsink.New(),
		log:  logger.Nop(),
	}
}

func (f *fakeRoot) Name() string                { return f.name }
func (f *fakeRoot) KV() kvstore.Client          { return f.kv }
func (f *fakeRoot) Code() coderegistry.Registry  { return f.code }
func (f *fakeRoot) Errs() errsink.Sink           { return f.errs }
func (f *fakeRoot) Log() *logger.Logger          { return f.log }
func (f *fakeRoot) TriggerRescan()               { f.trigger++ }
func (f *fakeRoot) Connectivity() (State, bool) { return f.state, f.tracked }

func TestShouldStart_NoCode(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")

	d := e.ShouldStart(time.Now())
	assert.False(t, d.Runnable)
}

func TestShouldStart_TargetInFuture(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")
	now := time.Now()
	require.NoError(t, e.Configure(context.Background(), []string{"mod", "fn"}, map[string]any{}, now.Add(5*time.Second), 0, time.Second))

	d := e.ShouldStart(now)
	assert.True(t, d.Runnable)
	assert.Greater(t, d.Wait, time.Duration(0))
}

func TestShouldStart_BackoffDue(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")
	e.code = []string{"mod", "fn"}
	e.delay = time.Second
	e.backoff = 2
	e.stopped = time.Now().Add(-10 * time.Second)

	d := e.ShouldStart(time.Now())
	assert.True(t, d.Runnable)
	assert.LessOrEqual(t, d.Wait, time.Duration(0))
}

func TestSendEvent_OverflowSentinel(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/x")
	q := make(chan any, QLEN)
	e.queue = q

	for i := 0; i < QLEN-1; i++ {
		e.SendEvent(i)
	}
	assert.Equal(t, QLEN-1, len(q))

	// One more push should hit the sentinel threshold: deliver a nil
	// terminator and tear down the queue so nothing else is accepted.
	e.SendEvent("overflow")
	assert.Nil(t, e.queue)

	for i := 0; i < QLEN-1; i++ {
		<-q
	}
	last := <-q
	assert.Nil(t, last)
}

func TestConfigureAndPersistRoundTrip(t *testing.T) {
	root := newFakeRoot(t, "n1")
	e := NewJobEntry(root, "/jobs/y")
	ctx := context.Background()

	require.NoError(t, e.Configure(ctx, []string{"pkg", "fn"}, map[string]any{"k": "v"}, time.Time{}, 0, 2*time.Second))
	assert.True(t, e.HasCode())

	raw, ok, err := root.kv.Get(ctx, "/jobs/y")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"pkg"`)
}
