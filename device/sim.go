package device

import (
	"errors"
	"sync"
	"time"

	"github.com/calvinmclean/autotend"
)

var errStalled = errors.New("motor stalled")

type simPin struct {
	mode       autotend.Mode
	level      autotend.Level
	pulses     int
	stallAfter int
	writeErr   error
}

// SimBus is an in-memory Bus. It is used for dry runs and as the hardware double in tests
type SimBus struct {
	mtx     sync.Mutex
	pins    map[int]*simPin
	onPulse func(pin, total int)
}

var (
	_ Bus    = &SimBus{}
	_ Pulser = &SimBus{}
)

func NewSimBus() *SimBus {
	return &SimBus{pins: map[int]*simPin{}}
}

func (b *SimBus) get(pin int) *simPin {
	p, ok := b.pins[pin]
	if !ok {
		p = &simPin{stallAfter: -1}
		b.pins[pin] = p
	}
	return p
}

func (b *SimBus) SetupPin(pin int, mode autotend.Mode) error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.get(pin).mode = mode
	return nil
}

func (b *SimBus) WritePin(pin int, level autotend.Level) error {
	b.mtx.Lock()
	p := b.get(pin)
	if p.writeErr != nil {
		b.mtx.Unlock()
		return p.writeErr
	}
	if level == autotend.High && p.level == autotend.Low {
		if p.stallAfter >= 0 && p.pulses >= p.stallAfter {
			b.mtx.Unlock()
			return errStalled
		}
		p.pulses++
	}
	p.level = level
	total := p.pulses
	hook := b.onPulse
	b.mtx.Unlock()

	if level == autotend.High && hook != nil {
		hook(pin, total)
	}
	return nil
}

func (b *SimBus) ReadPin(pin int) (autotend.Level, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.get(pin).level, nil
}

// Pulse issues n pulses on pin, stopping early if the pin was set to stall
func (b *SimBus) Pulse(pin, n int, delay time.Duration) (int, error) {
	for i := range n {
		b.mtx.Lock()
		p := b.get(pin)
		if p.writeErr != nil {
			b.mtx.Unlock()
			return i, p.writeErr
		}
		if p.stallAfter >= 0 && p.pulses >= p.stallAfter {
			b.mtx.Unlock()
			return i, nil
		}
		p.pulses++
		p.level = autotend.Low
		total := p.pulses
		hook := b.onPulse
		b.mtx.Unlock()

		if hook != nil {
			hook(pin, total)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	return n, nil
}

// SetInput sets the level that will be read from an input pin
func (b *SimBus) SetInput(pin int, level autotend.Level) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.get(pin).level = level
}

// StallAfter makes the pin stop issuing pulses once it has issued total pulses
func (b *SimBus) StallAfter(pin, total int) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.get(pin).stallAfter = total
}

// FailWrites makes every write and pulse on the pin return err. A nil err clears it
func (b *SimBus) FailWrites(pin int, err error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.get(pin).writeErr = err
}

// OnPulse registers a hook that runs after every pulse with the pin's running total
func (b *SimBus) OnPulse(hook func(pin, total int)) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.onPulse = hook
}

func (b *SimBus) Pulses(pin int) int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.get(pin).pulses
}

func (b *SimBus) Mode(pin int) autotend.Mode {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.get(pin).mode
}

func (b *SimBus) Level(pin int) autotend.Level {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.get(pin).level
}
