// Package reconcile consumes the exchange's private fill stream and folds
// every execution into the ledger exactly once, then fans out the follow-up
// actions each fill triggers: grid resets and risk checks. The connection is
// supervised with a heartbeat and bounded reconnects.
package reconcile

import "sync"

// State is the connection lifecycle of the listener.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateDegraded     State = "DEGRADED"
	StateReconnecting State = "RECONNECTING"
	StateStopped      State = "STOPPED"
)

// stateTracker guards the current state for concurrent readers.
type stateTracker struct {
	mu    sync.RWMutex
	state State
}

func newStateTracker() *stateTracker {
	return &stateTracker{state: StateDisconnected}
}

func (s *stateTracker) set(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *stateTracker) get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
