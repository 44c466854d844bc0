//go:build tinygo

package device

import (
	"errors"
	"machine"
	"time"

	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/firmware/commands"
	"tinygo.org/x/drivers/easystepper"
)

const pulseWidth = 2 * time.Microsecond

// CoilConfig maps a pair of virtual pins to a 4-coil stepper so the host can drive it
// like a step/direction driver
type CoilConfig struct {
	StepPin int
	DirPin  int
	Stepper easystepper.DeviceConfig
}

type coil struct {
	stepper *easystepper.Device
	forward bool
}

// Pins drives the microcontroller's GPIO and any coil steppers for the serial bridge
type Pins struct {
	coilsByStep map[int]*coil
	coilsByDir  map[int]*coil
}

var _ commands.Pins = &Pins{}

func NewPins(coils []CoilConfig) (*Pins, error) {
	p := &Pins{
		coilsByStep: map[int]*coil{},
		coilsByDir:  map[int]*coil{},
	}

	for _, cfg := range coils {
		if cfg.StepPin < autotend.VirtualPinBase || cfg.DirPin < autotend.VirtualPinBase {
			return nil, errors.New("coil stepper pins must be virtual")
		}

		stepper, err := easystepper.New(cfg.Stepper)
		if err != nil {
			return nil, errors.New("error creating stepper: " + err.Error())
		}
		stepper.Configure()

		c := &coil{stepper: stepper, forward: true}
		p.coilsByStep[cfg.StepPin] = c
		p.coilsByDir[cfg.DirPin] = c
	}

	return p, nil
}

func (p *Pins) physical(pin int) (machine.Pin, error) {
	if pin >= autotend.VirtualPinBase {
		return machine.NoPin, errors.New("unmapped virtual pin")
	}
	return machine.Pin(pin), nil
}

func (p *Pins) Configure(pin int, mode autotend.Mode) error {
	if p.coilsByStep[pin] != nil || p.coilsByDir[pin] != nil {
		return nil
	}

	mp, err := p.physical(pin)
	if err != nil {
		return err
	}

	pinMode := machine.PinInput
	if mode == autotend.ModeOutput {
		pinMode = machine.PinOutput
	}
	mp.Configure(machine.PinConfig{Mode: pinMode})
	return nil
}

func (p *Pins) Set(pin int, level autotend.Level) error {
	if c, ok := p.coilsByDir[pin]; ok {
		c.forward = bool(level)
		return nil
	}
	if _, ok := p.coilsByStep[pin]; ok {
		return nil
	}

	mp, err := p.physical(pin)
	if err != nil {
		return err
	}
	mp.Set(bool(level))
	return nil
}

func (p *Pins) Get(pin int) (autotend.Level, error) {
	mp, err := p.physical(pin)
	if err != nil {
		return autotend.Low, err
	}
	return autotend.Level(mp.Get()), nil
}

// Pulse issues n step pulses. Coil steppers move n steps at their configured RPM instead
func (p *Pins) Pulse(pin, n int, delay time.Duration) (int, error) {
	if c, ok := p.coilsByStep[pin]; ok {
		steps := int32(n)
		if !c.forward {
			steps = -steps
		}
		c.stepper.Move(steps)
		return n, nil
	}

	mp, err := p.physical(pin)
	if err != nil {
		return 0, err
	}

	for range n {
		mp.High()
		time.Sleep(pulseWidth)
		mp.Low()
		time.Sleep(delay)
	}
	return n, nil
}
