package memkv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetMissing(t *testing.T) {
	s := New("n1")
	_, ok, err := s.Get(context.Background(), "/nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PutFansOutSynchronouslyToAllSubscribers(t *testing.T) {
	s := New("n1")
	ctx := context.Background()

	var a, b []string
	_, err := s.Subscribe(ctx, "/path", func(_ context.Context, v []byte) { a = append(a, string(v)) })
	require.NoError(t, err)
	_, err = s.Subscribe(ctx, "/path", func(_ context.Context, v []byte) { b = append(b, string(v)) })
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "/path", []byte("v1")))
	require.NoError(t, s.Put(ctx, "/path", []byte("v2")))

	// Put blocks until every subscriber — including the writer's own —
	// has observed the update, so both lists are already complete here.
	assert.Equal(t, []string{"v1", "v2"}, a)
	assert.Equal(t, []string{"v1", "v2"}, b)
}

func TestStore_UnsubscribeStopsFutureDeliveries(t *testing.T) {
	s := New("n1")
	ctx := context.Background()

	var got []string
	unsub, err := s.Subscribe(ctx, "/path", func(_ context.Context, v []byte) { got = append(got, string(v)) })
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "/path", []byte("first")))
	unsub()
	require.NoError(t, s.Put(ctx, "/path", []byte("second")))

	assert.Equal(t, []string{"first"}, got)
}

func TestStore_ListPrefixMatch(t *testing.T) {
	s := New("n1")
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "/jobs/a", []byte("x")))
	require.NoError(t, s.Put(ctx, "/jobs/b", []byte("y")))
	require.NoError(t, s.Put(ctx, "/other/c", []byte("z")))

	paths, err := s.List(ctx, "/jobs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"/jobs/a", "/jobs/b"}, paths)
}
