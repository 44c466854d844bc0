package autotend

import "sync/atomic"

// MachineState is the process-wide state of the tending machine
type MachineState int32

const (
	MachineStateIdle MachineState = iota
	MachineStateTending
)

func (ms MachineState) String() string {
	switch ms {
	case MachineStateIdle:
		return "Idle"
	case MachineStateTending:
		return "Tending"
	default:
		return "Unknown"
	}
}

// State holds the current MachineState. Anything can read it, but only the tending
// service's start and terminal handlers should write it
type State struct {
	current atomic.Int32
}

// NewState creates a State that starts Idle
func NewState() *State {
	return &State{}
}

func (s *State) Current() MachineState {
	return MachineState(s.current.Load())
}

// CompareAndSwap moves to next only if the state is currently old
func (s *State) CompareAndSwap(old, next MachineState) bool {
	return s.current.CompareAndSwap(int32(old), int32(next))
}

func (s *State) Set(next MachineState) {
	s.current.Store(int32(next))
}

// Mode is the direction of a GPIO pin
type Mode int

const (
	ModeInput Mode = iota
	ModeOutput
)

func (m Mode) String() string {
	switch m {
	case ModeInput:
		return "Input"
	case ModeOutput:
		return "Output"
	default:
		return "Unknown"
	}
}

// Level is the logic level of a GPIO pin
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "High"
	}
	return "Low"
}
