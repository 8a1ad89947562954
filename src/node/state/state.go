package state

import (
	"sync"
	"sync/atomic"
)

// State captures the lifecycle of a ledger node: Created, Initializing,
// Initialized, Starting, Running, Error, or Shutdown
type State uint32

const (
	// Created is the state of a node that has not been initialized yet.
	Created State = iota

	// Initializing is the state in which a node brings up its network, loads
	// its ledger, and synchronizes with its peers.
	Initializing

	// Initialized is the state of a node that is ready to be started.
	Initialized

	// Starting is the state in which a node performs its role-specific first
	// action.
	Starting

	// Running is the steady state in which a node accepts transactions and
	// blocks.
	Running

	// Error is the absorbing state reached when initialization or start
	// fails.
	Error

	// Shutdown is the state in which a node stops responding to external events
	// and closes its transport.
	Shutdown
)

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.GoFunc
const WGLIMIT = 20

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Initializing:
		return "Initializing"
	case Initialized:
		return "Initialized"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Error:
		return "Error"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Manager wraps a State with get and set methods. It is also used to limit the
// number of goroutines launched by the node, and to wait for all of them to
// complete.
type Manager struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

// GetState returns the current state.
func (b *Manager) GetState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

// SetState sets the state.
func (b *Manager) SetState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Transition moves from one state to another, and reports whether the
// current state was from.
func (b *Manager) Transition(from, to State) bool {
	stateAddr := (*uint32)(&b.state)
	return atomic.CompareAndSwapUint32(stateAddr, uint32(from), uint32(to))
}

// GoFunc launches a goroutine for a given function, if there are currently
// less than WGLIMIT running. It increments the waitgroup, and reports whether
// the goroutine was launched.
func (b *Manager) GoFunc(f func()) bool {
	if atomic.AddInt32(&b.wgCount, 1) > WGLIMIT {
		atomic.AddInt32(&b.wgCount, -1)
		return false
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer atomic.AddInt32(&b.wgCount, -1)
		f()
	}()
	return true
}

// WaitRoutines waits for all the goroutines in the waitgroup.
func (b *Manager) WaitRoutines() {
	b.wg.Wait()
}
