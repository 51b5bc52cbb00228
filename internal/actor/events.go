// Package actor defines the gossip/leader-election contract described
// in spec.md §1 and §6: a stream of Ping/Tag/Untag/AuthPing events plus
// a way to report this node's load and toggle quorum participation.
// Like kvstore, this is an external collaborator in spec.md's scope —
// the runner core only depends on the Event sum type and the Actor
// interface below.
package actor

// Event is a tagged variant (spec.md §9 "sum types"); dispatch sites
// must exhaustively switch over the concrete types.
type Event interface {
	isActorEvent()
}

// Ping reports that node last reported the given load value (0-100,
// higher is freer).
type Ping struct {
	Node  string
	Value int
}

// Tag announces that this process is the leader for the current cycle.
type Tag struct{}

// Untag announces that this process has lost leadership for the
// current cycle.
type Untag struct{}

// AuthPing is a health signal from one of the configured core nodes,
// consumed only by SingleRunnerRoot to derive connectivity state.
type AuthPing struct {
	Node string
}

func (Ping) isActorEvent()     {}
func (Tag) isActorEvent()      {}
func (Untag) isActorEvent()    {}
func (AuthPing) isActorEvent() {}
