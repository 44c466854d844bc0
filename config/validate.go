package config

import (
	"errors"
	"fmt"

	"github.com/calvinmclean/autotend/device"
)

// ErrInvalid is wrapped by every configuration error. A Config that fails validation must
// not be used to build a machine
var ErrInvalid = errors.New("invalid configuration")

// Error describes one invalid configuration value
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalid, e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return ErrInvalid
}

// Validate checks the whole Config and returns every problem it finds
func (c Config) Validate() error {
	var errs []error
	invalid := func(field, reason string) {
		errs = append(errs, &Error{Field: field, Reason: reason})
	}

	if c.Serial.Port != "" && c.Serial.Baud <= 0 {
		invalid("serial.baud", "must be positive")
	}

	if c.Movement.StepsPerCm <= 0 {
		invalid("movement.steps_per_cm", "must be positive")
	}
	if c.Movement.StepDelay < 0 {
		invalid("movement.step_delay", "must not be negative")
	}
	if c.Movement.MaxHomingSteps <= 0 {
		invalid("movement.max_homing_steps", "must be positive")
	}

	if c.Rotation.StepsPerRevolution <= 0 {
		invalid("rotation.steps_per_revolution", "must be positive")
	}
	if c.Rotation.AngleDegrees < 0 {
		invalid("rotation.angle_degrees", "must not be negative")
	}
	if c.Rotation.StepDelay < 0 {
		invalid("rotation.step_delay", "must not be negative")
	}

	if c.Tending.SettleInterval < 0 {
		invalid("tending.settle_interval", "must not be negative")
	}
	if c.Tending.StartDelay < 0 {
		invalid("tending.start_delay", "must not be negative")
	}

	for _, a := range []struct {
		name string
		cfg  AxisConfig
	}{{"movement.x", c.Movement.X}, {"movement.y", c.Movement.Y}} {
		if a.cfg.HomePin != device.NoPin && a.cfg.DirPin == device.NoPin {
			invalid(a.name+".dir_pin", "required when home_pin is set")
		}
	}

	// every device owns its pin
	pins := map[int]string{}
	for _, p := range []struct {
		name     string
		pin      int
		required bool
	}{
		{"movement.x.step_pin", c.Movement.X.StepPin, true},
		{"movement.x.dir_pin", c.Movement.X.DirPin, false},
		{"movement.x.home_pin", c.Movement.X.HomePin, false},
		{"movement.y.step_pin", c.Movement.Y.StepPin, true},
		{"movement.y.dir_pin", c.Movement.Y.DirPin, false},
		{"movement.y.home_pin", c.Movement.Y.HomePin, false},
		{"rotation.step_pin", c.Rotation.StepPin, true},
		{"rotation.dir_pin", c.Rotation.DirPin, false},
	} {
		if p.pin == device.NoPin {
			if p.required {
				invalid(p.name, "required")
			}
			continue
		}
		if p.pin < 0 {
			invalid(p.name, "must not be negative")
			continue
		}
		if other, ok := pins[p.pin]; ok {
			invalid(p.name, fmt.Sprintf("pin %d is already used by %s", p.pin, other))
			continue
		}
		pins[p.pin] = p.name
	}

	return errors.Join(errs...)
}
