// Package kvstore defines the contract this module needs from the
// replicated key-value store that job.md treats as an external,
// opaque collaborator (spec.md §1, §6). The runner core only depends
// on this interface; concrete adapters live in sibling packages.
package kvstore

import "context"

// WatchFunc is invoked every time a path's value changes, including the
// echo of the subscriber's own write. Implementations MUST deliver
// updates for a given path in the same order they were written
// (spec.md §5: "KV updates to a JobEntry are totally ordered per entry").
type WatchFunc func(ctx context.Context, value []byte)

// Client is the KV store capability the runner needs: read/write a
// single path, subscribe to changes on a path, and list the paths
// under a subtree prefix (used to walk all JobEntries under a root).
type Client interface {
	// Name is this client's own node identity, used as the default
	// runner name when config doesn't override it.
	Name() string

	Get(ctx context.Context, path string) (value []byte, found bool, err error)

	// Put persists value at path and blocks until the write has been
	// applied and fanned out to every current subscriber of path,
	// including the caller's own subscription if any — this is what
	// gives JobEntry.Run its "persist and wait for acknowledgement"
	// semantics (spec.md §4.1 step 3).
	Put(ctx context.Context, path string, value []byte) error

	// Subscribe registers fn to be called on every future Put to path
	// (not replayed for the current value). The returned func removes
	// the subscription.
	Subscribe(ctx context.Context, path string, fn WatchFunc) (unsubscribe func(), err error)

	// List returns every path stored directly under prefix (non-recursive
	// is fine for a flat job subtree; adapters may choose to return the
	// full recursive set).
	List(ctx context.Context, prefix string) ([]string, error)

	Close() error
}
