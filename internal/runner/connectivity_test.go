package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeState(t *testing.T) {
	cases := []struct {
		name    string
		history []string
		self    string
		nNodes  int
		want    State
	}{
		{"empty history", nil, "a", 3, Detached},
		{"only self", []string{"a"}, "a", 3, Detached},
		{"full group", []string{"a", "b", "c"}, "a", 3, Complete},
		{"more than group", []string{"a", "b", "c", "a"}, "a", 3, Complete},
		{"partial group", []string{"a", "b"}, "a", 3, Partial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ComputeState(tc.history, tc.self, tc.nNodes))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "detached", Detached.String())
	assert.Equal(t, "partial", Partial.String())
	assert.Equal(t, "complete", Complete.String())
	assert.Equal(t, "unknown", State(99).String())
}
