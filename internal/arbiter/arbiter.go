// Package arbiter implements the single-writer resource lock between the
// serial and orchestrator request channels (spec.md §4.4/§5): exactly one
// owns the alignment context and piezo registry at a time, decided by
// atomic compare-and-set rather than a mutex, so a loser never blocks —
// it simply reports busy and goes back to consuming requests.
package arbiter

import "sync/atomic"

// State is the resource's current owner.
type State int32

const (
	Idle State = iota
	RunningSerial
	RunningOrchestrator
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RunningSerial:
		return "running_serial"
	case RunningOrchestrator:
		return "running_orchestrator"
	default:
		return "unknown"
	}
}

// Arbiter is the process-wide resource lock. The zero value is Idle and
// ready to use.
type Arbiter struct {
	state atomic.Int32
}

// StartSerial attempts IDLE → RUNNING_SERIAL. It reports whether the
// caller now owns the resource.
func (a *Arbiter) StartSerial() bool {
	return a.state.CompareAndSwap(int32(Idle), int32(RunningSerial))
}

// StartOrchestrator attempts IDLE → RUNNING_ORCHESTRATOR. It reports
// whether the caller now owns the resource.
func (a *Arbiter) StartOrchestrator() bool {
	return a.state.CompareAndSwap(int32(Idle), int32(RunningOrchestrator))
}

// Stop releases ownership, returning to IDLE. It reports false if the
// resource was already idle (nothing to release).
func (a *Arbiter) Stop() bool {
	for {
		cur := State(a.state.Load())
		if cur == Idle {
			return false
		}
		if a.state.CompareAndSwap(int32(cur), int32(Idle)) {
			return true
		}
	}
}

// Current returns the resource's current owner, for diagnostics.
func (a *Arbiter) Current() State {
	return State(a.state.Load())
}
