// Package conn tracks the bridge's connection health. The bridge loop
// feeds it poll and reconnect outcomes; it answers with the action the
// loop must take next. It never talks to the network itself.
package conn

import "fmt"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
	StateReconnecting
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateReconnecting:
		return "reconnecting"
	case StateFatal:
		return "fatal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Action is what the bridge loop must do after reporting an outcome.
type Action int

const (
	ActionNone Action = iota
	ActionReconnect
	ActionFatal
)

const (
	// MaxConsecutiveFailures poll failures in a row trigger a reconnect.
	MaxConsecutiveFailures = 3
	// MaxReconnectFailures reconnect failures in a row end the process;
	// past that point recovery belongs to the external supervisor.
	MaxReconnectFailures = 3
)

type Tracker struct {
	state             State
	consecutiveFails  int
	reconnectFailures int
}

func NewTracker() *Tracker {
	return &Tracker{state: StateDisconnected}
}

func (t *Tracker) State() State           { return t.state }
func (t *Tracker) ConsecutiveFails() int  { return t.consecutiveFails }
func (t *Tracker) ReconnectFailures() int { return t.reconnectFailures }

// Connecting marks the initial connect attempt.
func (t *Tracker) Connecting() {
	t.state = StateConnecting
}

// Connected marks a successful initial connect.
func (t *Tracker) Connected() {
	t.state = StateConnected
	t.consecutiveFails = 0
	t.reconnectFailures = 0
}

// PollSuccess resets the failure streak; the connection is healthy again.
func (t *Tracker) PollSuccess() {
	t.consecutiveFails = 0
	t.reconnectFailures = 0
	if t.state == StateDegraded || t.state == StateReconnecting {
		t.state = StateConnected
	}
}

// PollFailure records one failed poll and answers whether the streak has
// grown long enough to warrant a reconnect.
func (t *Tracker) PollFailure() Action {
	t.consecutiveFails++
	if t.state == StateConnected {
		t.state = StateDegraded
	}
	if t.consecutiveFails >= MaxConsecutiveFailures {
		t.state = StateReconnecting
		return ActionReconnect
	}
	return ActionNone
}

// ReconnectResult records the outcome of a reconnect attempt. Success
// restores Connected and clears both counters. Failure keeps the tracker
// in Reconnecting — the loop carries on polling and will be told to
// reconnect again on the next failed poll — until the failure streak
// crosses the fatal threshold.
func (t *Tracker) ReconnectResult(ok bool) Action {
	if ok {
		t.state = StateConnected
		t.consecutiveFails = 0
		t.reconnectFailures = 0
		return ActionNone
	}
	t.reconnectFailures++
	if t.reconnectFailures >= MaxReconnectFailures {
		t.state = StateFatal
		return ActionFatal
	}
	t.state = StateReconnecting
	return ActionNone
}
