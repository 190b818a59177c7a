// Package decision holds the relax-mode state machine and the correlator that
// pairs theta values with GSR readings.
package decision

import (
	"sync/atomic"
	"time"
)

// State is the relax-mode state of the subject.
type State int

const (
	Normal State = iota
	Relaxing
)

func (s State) String() string {
	if s == Relaxing {
		return "RELAXING"
	}
	return "NORMAL"
}

// Command is the motor command a transition requires.
type Command int

const (
	CommandNone Command = iota
	CommandStart
	CommandStop
)

func (c Command) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	}
	return "none"
}

// Outcome is the result of evaluating one pair.
type Outcome struct {
	From    State
	To      State
	Command Command
	// Held is set when a transition was due but suppressed by the dwell time.
	Held bool
}

// Changed reports whether the evaluation transitioned.
func (o Outcome) Changed() bool {
	return o.From != o.To
}

// Machine is the two-state relax-mode machine. It is owned by a single
// goroutine; only the thresholds may be swapped concurrently.
type Machine struct {
	state      State
	thresholds atomic.Pointer[Thresholds]
	minDwell   time.Duration
	lastChange time.Time
}

// NewMachine creates a machine in the NORMAL state.
func NewMachine(t Thresholds, minDwell time.Duration) *Machine {
	m := &Machine{minDwell: minDwell}
	m.thresholds.Store(&t)
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Thresholds returns the active thresholds.
func (m *Machine) Thresholds() Thresholds {
	return *m.thresholds.Load()
}

// SetThresholds swaps the active thresholds. Safe to call from any goroutine.
func (m *Machine) SetThresholds(t Thresholds) {
	m.thresholds.Store(&t)
}

// Evaluate applies one theta/conduction pair observed at time at.
func (m *Machine) Evaluate(theta, conduction float64, at time.Time) Outcome {
	t := m.thresholds.Load()
	out := Outcome{From: m.state, To: m.state}

	var next State
	var cmd Command
	switch m.state {
	case Normal:
		if !t.ShouldEnter(theta, conduction) {
			return out
		}
		next, cmd = Relaxing, CommandStart
	case Relaxing:
		if !t.ShouldExit(theta, conduction) {
			return out
		}
		next, cmd = Normal, CommandStop
	}

	if m.minDwell > 0 && !m.lastChange.IsZero() && at.Sub(m.lastChange) < m.minDwell {
		out.Held = true
		return out
	}

	m.state = next
	m.lastChange = at
	out.To = next
	out.Command = cmd
	return out
}

// Reset forces the machine back to NORMAL and returns the command needed to
// get the motor there.
func (m *Machine) Reset(at time.Time) Command {
	if m.state == Normal {
		return CommandNone
	}
	m.state = Normal
	m.lastChange = at
	return CommandStop
}
