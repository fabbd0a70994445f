// Package runstate provides the non-reentrant run guard shared by the
// long-running subsystems. A second trigger while a run is in flight is
// dropped, not queued; duplicate triggers are common and safe to drop.
package runstate

import "sync"

// State is the lifecycle position of a guarded subsystem.
type State int

const (
	// Idle means no run is in flight.
	Idle State = iota
	// Running means a run is in flight.
	Running
	// StopRequested means a run is in flight and has been asked to wind
	// down at the next checkpoint.
	StopRequested
)

// Guard is a tri-state mutual exclusion flag.
type Guard struct {
	mu    sync.Mutex
	state State
}

// TryStart moves Idle to Running and reports whether it succeeded. A
// false return means a run is already in flight and the trigger should
// be dropped.
func (g *Guard) TryStart() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != Idle {
		return false
	}
	g.state = Running
	return true
}

// Finish returns the guard to Idle. Call it when the run ends, whether
// it completed or honored a stop request.
func (g *Guard) Finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = Idle
}

// RequestStop asks an in-flight run to wind down. It is a no-op when
// idle.
func (g *Guard) RequestStop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == Running {
		g.state = StopRequested
	}
}

// StopRequested reports whether the current run should wind down. Runs
// check this between work items.
func (g *Guard) StopRequested() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StopRequested
}

// Running reports whether a run is in flight.
func (g *Guard) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state != Idle
}
