package config

import (
	"time"

	"github.com/runnerkv/runner/internal/pkg/logger"
)

// ActorConfig is the opaque sub-config passed through to whichever actor
// adapter is wired in (redis gossip, or a test fake). cycle_time_max and
// history_size are the two attributes the runner core actually consumes
// (see spec.md §6); everything else is adapter-specific.
type ActorConfig struct {
	CycleTimeMax time.Duration
	HistorySize  int
}

// RunnerConfig is the per-root configuration recognized by both
// AllRunnerRoot and SingleRunnerRoot (spec.md §6).
type RunnerConfig struct {
	// Path is the KV subtree where JobEntries live.
	Path string
	// Name is this runner's node identity. Empty defaults to the KV
	// client's own name at wiring time.
	Name string
	// StartDelay paces spawning between due entries in one rescan pass.
	StartDelay time.Duration
	Actor      ActorConfig

	// Cores lists the node names defining quorum (SingleRunnerRoot only).
	Cores []string

	// NNodes is the expected group size used to derive connectivity
	// state from AuthPing history (spec.md §3).
	NNodes int

	// CancelOnUntag, when true, cancels in-flight jobs (not just the
	// rescan loop) on UntagEvent — the "hard Detag" behavior left as an
	// open question in spec.md §9.
	CancelOnUntag bool
}

// LoadRunnerConfig reads a RunnerConfig from the environment using the
// prefix as a namespace (e.g. "RUN" -> RUN_PATH, RUN_START_DELAY, ...).
func LoadRunnerConfig(prefix string, log *logger.Logger) RunnerConfig {
	p := func(suffix string) string { return prefix + "_" + suffix }
	return RunnerConfig{
		Path:          GetEnv(p("PATH"), ".distkv/run", log),
		Name:          GetEnv(p("NAME"), "", log),
		StartDelay:    GetEnvAsDuration(p("START_DELAY"), 100*time.Millisecond, log),
		CancelOnUntag: GetEnvAsBool(p("CANCEL_ON_UNTAG"), false, log),
		Cores:         GetEnvAsStrings(p("CORES"), nil, log),
		NNodes:        GetEnvAsInt(p("N_NODES"), 1, log),
		Actor: ActorConfig{
			CycleTimeMax: GetEnvAsDuration(p("ACTOR_CYCLE_TIME_MAX"), 10*time.Second, log),
			HistorySize:  GetEnvAsInt(p("ACTOR_HISTORY_SIZE"), 5, log),
		},
	}
}
