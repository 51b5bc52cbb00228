package actor

import (
	"context"
	"time"
)

// Actor is one node's handle onto the gossip/leader-election service.
// Recv blocks until the next event, ctx cancellation, or stream end
// (io.EOF-style nil,nil return signals a clean end of stream, mapped by
// the runner core to an ActorLoss error per spec.md §7).
type Actor interface {
	Recv(ctx context.Context) (Event, error)

	// SetValue reports this node's current load to the rest of the group.
	SetValue(ctx context.Context, value int) error

	// Enable/Disable toggle this node's participation in the n-node
	// quorum used by SingleRunnerRoot to size connectivity (spec.md §4.5).
	Enable(ctx context.Context, n int) error
	Disable(ctx context.Context, n int) error

	// CycleTimeMax and HistorySize are the two attributes the watchdogs
	// consume (spec.md §6).
	CycleTimeMax() time.Duration
	HistorySize() int

	Close() error
}
