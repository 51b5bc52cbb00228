package memsink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runnerkv/runner/internal/errsink"
)

func TestSink_RecordExcAppends(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.RecordExc(ctx, errsink.KindCodeResolution, "/jobs/a", errors.New("boom"), map[string]any{"k": "v"}, "first")
	s.RecordExc(ctx, errsink.KindOwnershipLoss, "/jobs/b", nil, nil, "second")

	got := s.Records()
	assert.Len(t, got, 2)
	assert.Equal(t, errsink.KindCodeResolution, got[0].Kind)
	assert.Equal(t, "/jobs/a", got[0].Path)
	assert.EqualError(t, got[0].Err, "boom")
	assert.Equal(t, "second", got[1].Comment)
}

func TestSink_RecordsReturnsDefensiveCopy(t *testing.T) {
	s := New()
	s.RecordExc(context.Background(), errsink.KindCodeResolution, "/jobs/a", nil, nil, "")

	got := s.Records()
	got[0].Path = "/mutated"

	assert.Equal(t, "/jobs/a", s.Records()[0].Path)
}
