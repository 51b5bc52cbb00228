package runner

import "runtime"

// LoadReporter reports this node's current free-capacity value (0-100,
// higher is freer) for gossip to the rest of the group via
// actor.Actor.SetValue (spec.md §4.4 "report own free-CPU to the actor
// as the local load"; SPEC_FULL.md §4 "Load reporting to the actor").
type LoadReporter func() int

// DefaultLoadReporter is the out-of-the-box heuristic: there is no
// portable stdlib equivalent of the original's psutil.cpu_percent
// sampling (original_source/distkv/runner.py), so this approximates
// free capacity from goroutine pressure relative to GOMAXPROCS instead
// of true CPU usage. Treated as non-normative, the same way spec.md §9
// treats seen_load — deployments that need a real signal should supply
// their own LoadReporter via AllRunnerRoot.SetLoadReporter.
func DefaultLoadReporter() int {
	const goroutinesPerProcAtFullLoad = 50

	procs := runtime.GOMAXPROCS(0)
	if procs <= 0 {
		procs = 1
	}
	busy := runtime.NumGoroutine() * 100 / (procs * goroutinesPerProcAtFullLoad)
	if busy > 100 {
		busy = 100
	}
	free := 100 - busy
	if free < 0 {
		free = 0
	}
	return free
}
