// Package errsink defines the error-recording contract spec.md §6 calls
// the "error sink": record_exc(kind, *path, exc, data, comment), a
// best-effort side channel that must never itself fail the runner.
package errsink

import "context"

// Kind distinguishes error sources by recovery policy (spec.md §7).
type Kind string

const (
	KindCodeResolution Kind = "code_resolution"
	KindJobException   Kind = "job_exception"
	KindOwnershipLoss  Kind = "ownership_loss"
	KindPersistFailure Kind = "persist_failure"
	KindStarvation     Kind = "starvation"
	KindActorLoss      Kind = "actor_loss"
)

// Sink records a job exception. Implementations must never return an
// error that the caller is obliged to act on — at most log locally.
type Sink interface {
	RecordExc(ctx context.Context, kind Kind, path string, exc error, data map[string]any, comment string)
}

// Nop discards every record; useful for tests that don't assert on the
// error sink.
type Nop struct{}

func (Nop) RecordExc(context.Context, Kind, string, error, map[string]any, string) {}
