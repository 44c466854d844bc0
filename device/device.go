package device

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinmclean/autotend"
)

// NoPin is used in configs for optional pins that are not connected
const NoPin = -1

// Bus is the hardware layer that actually drives pins
type Bus interface {
	SetupPin(pin int, mode autotend.Mode) error
	WritePin(pin int, level autotend.Level) error
	ReadPin(pin int) (autotend.Level, error)
}

// Pulser is implemented by a Bus that can issue a whole pulse train itself. It returns the
// number of pulses actually issued
type Pulser interface {
	Pulse(pin, n int, delay time.Duration) (int, error)
}

// Device is a single GPIO pin with a direction
type Device interface {
	Pin() int
	Mode() autotend.Mode
	// Level is the last written or read level
	Level() autotend.Level
	SetMode(autotend.Mode) error
	Write(autotend.Level) error
	Read() (autotend.Level, error)
}

// GPIO is a Device backed by a Bus
type GPIO struct {
	bus Bus
	pin int

	mtx   sync.Mutex
	mode  autotend.Mode
	level autotend.Level

	// busy is set while an owner (like a Stepper) is in the middle of a pulse train
	busy atomic.Bool
}

var _ Device = &GPIO{}

// NewGPIO configures the pin on the bus and returns the Device
func NewGPIO(bus Bus, pin int, mode autotend.Mode) (*GPIO, error) {
	g := &GPIO{bus: bus, pin: pin, mode: mode}
	err := bus.SetupPin(pin, mode)
	if err != nil {
		return nil, g.err("setup", err)
	}
	return g, nil
}

func (g *GPIO) Pin() int {
	return g.pin
}

func (g *GPIO) Mode() autotend.Mode {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.mode
}

func (g *GPIO) Level() autotend.Level {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.level
}

func (g *GPIO) SetMode(mode autotend.Mode) error {
	if g.busy.Load() {
		return g.err("set mode", ErrInvalidTransition)
	}

	g.mtx.Lock()
	defer g.mtx.Unlock()

	err := g.bus.SetupPin(g.pin, mode)
	if err != nil {
		return g.errLocked("set mode", err)
	}
	g.mode = mode
	return nil
}

func (g *GPIO) Write(level autotend.Level) error {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.mode != autotend.ModeOutput {
		return g.errLocked("write", ErrWrongMode)
	}

	err := g.bus.WritePin(g.pin, level)
	if err != nil {
		return g.errLocked("write", err)
	}
	g.level = level
	return nil
}

func (g *GPIO) Read() (autotend.Level, error) {
	g.mtx.Lock()
	defer g.mtx.Unlock()

	if g.mode != autotend.ModeInput {
		return g.level, g.errLocked("read", ErrWrongMode)
	}

	level, err := g.bus.ReadPin(g.pin)
	if err != nil {
		return g.level, g.errLocked("read", err)
	}
	g.level = level
	return level, nil
}

func (g *GPIO) begin() bool {
	return g.busy.CompareAndSwap(false, true)
}

func (g *GPIO) end() {
	g.busy.Store(false)
}

func (g *GPIO) setLevel(level autotend.Level) {
	g.mtx.Lock()
	g.level = level
	g.mtx.Unlock()
}

func (g *GPIO) err(op string, err error) *Error {
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.errLocked(op, err)
}

func (g *GPIO) errLocked(op string, err error) *Error {
	return &Error{Op: op, Pin: g.pin, Mode: g.mode, Level: g.level, Err: err}
}
