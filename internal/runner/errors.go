package runner

import (
	"errors"
	"fmt"
)

// ErrActorClosed is returned by the event-consuming loops when the
// actor's Recv reports a clean end of stream (nil event, nil error) —
// the gossip/leader-election collaborator going away out from under the
// runner (spec.md §7 "actor_loss").
var ErrActorClosed = errors.New("runner: actor event stream closed")

// NotSelected is raised by the age-killer watchdog when this node has
// gone without a Tag for longer than max_age — fatal to the runner
// (spec.md §4.4, §7 "Starvation").
type NotSelected struct {
	MaxAge string
}

func (e *NotSelected) Error() string {
	return fmt.Sprintf("runner: not selected as leader for longer than max_age=%s; probably partitioned", e.MaxAge)
}
