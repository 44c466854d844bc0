package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/calvinmclean/autotend"
)

// StepperConfig has the pins for a step/direction stepper driver. DirPin is optional and
// should be NoPin when the driver's direction input is not connected
type StepperConfig struct {
	StepPin int
	DirPin  int
}

// Stepper drives a stepper motor by pulsing its step pin
type Stepper struct {
	bus  Bus
	step *GPIO
	dir  *GPIO
}

func NewStepper(bus Bus, cfg StepperConfig) (*Stepper, error) {
	step, err := NewGPIO(bus, cfg.StepPin, autotend.ModeOutput)
	if err != nil {
		return nil, fmt.Errorf("error creating step pin: %w", err)
	}

	s := &Stepper{bus: bus, step: step}

	if cfg.DirPin != NoPin {
		s.dir, err = NewGPIO(bus, cfg.DirPin, autotend.ModeOutput)
		if err != nil {
			return nil, fmt.Errorf("error creating direction pin: %w", err)
		}
	}

	return s, nil
}

// Device is the step pin that identifies this Stepper
func (s *Stepper) Device() Device {
	return s.step
}

// Step issues |n| pulses separated by delay. A negative n reverses direction. It returns the
// signed number of pulses that were actually issued. When that is short of n, the error
// wraps ErrStall. Stalls are never retried
func (s *Stepper) Step(n int, delay time.Duration) (int, error) {
	if n == 0 {
		return 0, nil
	}

	if !s.step.begin() {
		return 0, s.step.err("step", ErrInvalidTransition)
	}
	defer s.step.end()

	sign, count := 1, n
	if n < 0 {
		sign, count = -1, -n
	}

	if s.dir != nil {
		err := s.dir.Write(autotend.Level(sign > 0))
		if err != nil {
			return 0, err
		}
	} else if sign < 0 {
		return 0, s.step.err("step", ErrInvalidTransition)
	}

	issued, err := s.pulse(count, delay)
	if issued < count {
		stallErr := s.step.err("step", ErrStall)
		stallErr.Requested = count
		stallErr.Actual = issued
		if err != nil {
			stallErr.Err = errors.Join(ErrStall, err)
		}
		return sign * issued, stallErr
	}

	return sign * issued, err
}

// A Pulser bus is shared by every stepper, so pulse trains are sent in batches that each
// hold the bus for about pulseBatchDuration at most
const (
	pulseBatchDuration = 5 * time.Millisecond
	maxPulseBatch      = 64
)

func pulseBatch(remaining int, delay time.Duration) int {
	batch := maxPulseBatch
	if delay > 0 {
		batch = min(batch, int(pulseBatchDuration/delay))
	}
	return max(1, min(batch, remaining))
}

func (s *Stepper) pulse(count int, delay time.Duration) (int, error) {
	if p, ok := s.bus.(Pulser); ok {
		defer s.step.setLevel(autotend.Low)

		total := 0
		for total < count {
			batch := pulseBatch(count-total, delay)
			issued, err := p.Pulse(s.step.pin, batch, delay)
			total += issued
			if err != nil || issued < batch {
				return total, err
			}
		}
		return total, nil
	}

	for i := range count {
		err := s.step.Write(autotend.High)
		if err != nil {
			return i, err
		}
		err = s.step.Write(autotend.Low)
		if err != nil {
			return i, err
		}
		time.Sleep(delay)
	}

	return count, nil
}

// LimitSwitch is an input pin that reports when an axis has reached the end of its travel
type LimitSwitch struct {
	dev       *GPIO
	activeLow bool
}

// NewLimitSwitch creates a LimitSwitch. When activeLow is set, a Low reading means triggered
func NewLimitSwitch(bus Bus, pin int, activeLow bool) (*LimitSwitch, error) {
	dev, err := NewGPIO(bus, pin, autotend.ModeInput)
	if err != nil {
		return nil, fmt.Errorf("error creating limit switch: %w", err)
	}
	return &LimitSwitch{dev: dev, activeLow: activeLow}, nil
}

func (l *LimitSwitch) Device() Device {
	return l.dev
}

func (l *LimitSwitch) IsTriggered() (bool, error) {
	level, err := l.dev.Read()
	if err != nil {
		return false, err
	}
	return bool(level) != l.activeLow, nil
}
