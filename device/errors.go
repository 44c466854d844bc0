package device

import (
	"errors"
	"fmt"

	"github.com/calvinmclean/autotend"
)

var (
	// ErrWrongMode is returned when writing an input pin or reading an output pin
	ErrWrongMode = errors.New("wrong mode")
	// ErrInvalidTransition is returned when a mode change is requested while the device is mid-operation
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrStall is returned when a stepper issues fewer pulses than requested
	ErrStall = errors.New("stall")
)

// Error carries the device context of a failed operation. Use errors.Is with the sentinel
// errors above to check the kind
type Error struct {
	Op        string
	Pin       int
	Mode      autotend.Mode
	Level     autotend.Level
	Requested int
	Actual    int
	Err       error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s pin=%d mode=%s level=%s", e.Op, e.Pin, e.Mode, e.Level)
	if e.Requested != e.Actual {
		msg += fmt.Sprintf(" requested=%d actual=%d", e.Requested, e.Actual)
	}
	return msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
