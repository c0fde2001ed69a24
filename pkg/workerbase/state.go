// Package workerbase implements the Worker Base state machine (§4.2): the
// connect/poll/reconnect lifecycle shared by every protocol worker
// (Modbus TCP/RTU, BACnet/IP, MQTT). Protocol-specific behaviour plugs in
// through the ProtocolHooks interface; workerbase owns only the state
// machine, the reconnect backoff policy, and the keep-alive timer.
//
// Grounded on the teacher's pkg/scheduler.Scheduler (stopCh + ticker
// goroutine shape) and pkg/health.Status (consecutive-failure counting),
// generalised into an explicit state machine per §9's design note that
// worker lifecycle should be a closed enum, not ad hoc booleans.
package workerbase

import "fmt"

// State is a Worker Base lifecycle state (§4.2).
type State string

const (
	StateCreated     State = "created"
	StateStarting    State = "starting"
	StateConnecting  State = "connecting"
	StateConnected   State = "connected"
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateReconnecting State = "reconnecting"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
)

// transitions enumerates the legal moves of the worker lifecycle.
var transitions = map[State]map[State]bool{
	StateCreated:      {StateStarting: true},
	StateStarting:     {StateConnecting: true, StateStopping: true},
	StateConnecting:   {StateConnected: true, StateReconnecting: true, StateStopping: true},
	StateConnected:    {StateRunning: true, StateStopping: true, StateReconnecting: true},
	StateRunning:      {StatePaused: true, StateStopping: true, StateReconnecting: true},
	StatePaused:       {StateRunning: true, StateStopping: true, StateReconnecting: true},
	StateReconnecting: {StateConnecting: true, StateStopping: true},
	StateStopping:     {StateStopped: true},
	StateStopped:      {StateStarting: true},
}

// CanTransition reports whether moving from 'from' to 'to' is legal.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return transitions[from][to]
}

// ErrIllegalTransition is returned by Worker.setState when asked to move
// to a state the machine does not allow from its current state.
type ErrIllegalTransition struct {
	From, To State
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("workerbase: illegal transition %s -> %s", e.From, e.To)
}
