package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_PushEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	h.Push("a")
	h.Push("b")
	h.Push("c")
	h.Push("d")

	assert.Equal(t, []string{"b", "c", "d"}, h.Snapshot())
	assert.Equal(t, 3, h.Len())
}

func TestHistory_PopOldestRefusesToEmpty(t *testing.T) {
	h := NewHistory(5)
	h.Push("only")

	_, ok := h.PopOldest()
	assert.False(t, ok)
	assert.Equal(t, 1, h.Len())
}

func TestHistory_PopOldestRemovesFront(t *testing.T) {
	h := NewHistory(5)
	h.Push("a")
	h.Push("b")
	h.Push("c")

	got, ok := h.PopOldest()
	require.True(t, ok)
	assert.Equal(t, "a", got)
	assert.Equal(t, []string{"b", "c"}, h.Snapshot())
}
