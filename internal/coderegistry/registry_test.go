package coderegistry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_RegisterAndResolve(t *testing.T) {
	m := NewMap()
	call := func(ctx context.Context, kwargs map[string]any) (any, error) { return "ok", nil }

	require.NoError(t, m.Register([]string{"foo", "bar"}, call, true))

	e, ok := m.Resolve([]string{"foo", "bar"})
	require.True(t, ok)
	assert.True(t, e.IsAsync)

	_, ok = m.Resolve([]string{"foo", "baz"})
	assert.False(t, ok)
}

func TestMap_RegisterRejectsDuplicatePath(t *testing.T) {
	m := NewMap()
	call := func(ctx context.Context, kwargs map[string]any) (any, error) { return nil, nil }

	require.NoError(t, m.Register([]string{"foo"}, call, false))
	err := m.Register([]string{"foo"}, call, false)
	assert.Error(t, err)
}

func TestMap_RegisterRejectsNilCallable(t *testing.T) {
	m := NewMap()
	err := m.Register([]string{"foo"}, nil, false)
	assert.Error(t, err)
}

func TestMap_RegisterRejectsEmptyPath(t *testing.T) {
	m := NewMap()
	call := func(ctx context.Context, kwargs map[string]any) (any, error) { return nil, nil }
	err := m.Register(nil, call, false)
	assert.Error(t, err)
}

func TestKey_JoinsWithDot(t *testing.T) {
	assert.Equal(t, "foo.bar", Key([]string{"foo", "bar"}))
	assert.Equal(t, "", Key(nil))
}
