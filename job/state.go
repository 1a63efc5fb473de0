package job

// State represents the logical scheduling state of a job.
type State string

const (
	// StateWaiting means the job is schedulable and waiting for its
	// next fire.
	StateWaiting State = "waiting"
	// StateRunning means a job instance is currently in flight.
	// Running is never a stable terminal state: every fire-event
	// invocation exits it before control returns to the trigger.
	StateRunning State = "running"
	// StatePaused means an operator suspended the job; fires are ignored
	// until resume.
	StatePaused State = "paused"
	// StateStopped means an operator disabled the job.
	StateStopped State = "stopped"
)

// transitions is the legal transition table. A direct update to a state
// not reachable from the current one is rejected with
// antares.ErrStateTransferInvalid.
var transitions = map[State][]State{
	StateWaiting: {StateRunning, StatePaused, StateStopped},
	StateRunning: {StateWaiting, StatePaused, StateStopped},
	StatePaused:  {StateWaiting, StateStopped},
	StateStopped: {StateWaiting},
}

// CanTransfer reports whether moving from one state to another is legal.
// Self-transitions are not legal; safe updates treat them as a no-op.
func CanTransfer(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known job state.
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateRunning, StatePaused, StateStopped:
		return true
	}
	return false
}
