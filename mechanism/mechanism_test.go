package mechanism

import (
	"testing"
	"time"

	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	xStepPin = 1
	xDirPin  = 2
	xHomePin = 3
	yStepPin = 4
	yDirPin  = 5
	rStepPin = 6
)

// gatedStepper blocks every Step until the gate is closed
type gatedStepper struct {
	gate chan struct{}
}

func (g gatedStepper) Step(n int, _ time.Duration) (int, error) {
	<-g.gate
	return n, nil
}

func newStepper(t *testing.T, bus device.Bus, step, dir int) *device.Stepper {
	t.Helper()
	s, err := device.NewStepper(bus, device.StepperConfig{StepPin: step, DirPin: dir})
	require.NoError(t, err)
	return s
}

func newTestMovement(t *testing.T, bus *device.SimBus, stepsPerCm float64) *Movement {
	t.Helper()
	m, err := NewMovement(
		MovementConfig{StepsPerCm: stepsPerCm, StepDelay: time.Microsecond},
		Axis{Stepper: newStepper(t, bus, xStepPin, xDirPin)},
		Axis{Stepper: newStepper(t, bus, yStepPin, yDirPin)},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.Close()
	})
	return m
}

// waitTerminal drains events until a terminal one arrives and returns it along with the
// progress events before it
func waitTerminal(t *testing.T, events <-chan Event) (Event, []Event) {
	t.Helper()

	var progress []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind.Terminal() {
				return ev, progress
			}
			progress = append(progress, ev)
		case <-timeout:
			t.Fatal("timed out waiting for terminal event")
			return Event{}, nil
		}
	}
}

func assertNoMoreEvents(t *testing.T, events <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-events:
		if ok {
			t.Errorf("unexpected event after terminal: %+v", ev)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCmToSteps(t *testing.T) {
	tests := []struct {
		name       string
		cm         int
		stepsPerCm float64
		expected   int
	}{
		{"Zero", 0, 2.5, 0},
		{"Whole", 3, 2.0, 6},
		{"RoundsUp", 1, 2.5, 3},
		{"Negative", -1, 2.5, -3},
		{"Fractional", 3, 0.1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CmToSteps(tt.cm, tt.stepsPerCm))
		})
	}

	t.Run("Monotonic", func(t *testing.T) {
		for _, k := range []float64{0.3, 1, 2.5, 80} {
			prev := CmToSteps(-50, k)
			for cm := -49; cm <= 50; cm++ {
				steps := CmToSteps(cm, k)
				assert.GreaterOrEqual(t, steps, prev, "cm=%d k=%f", cm, k)
				prev = steps
			}
		}
	})
}

func TestMovementSinglePoint(t *testing.T) {
	bus := device.NewSimBus()
	m := newTestMovement(t, bus, 2.0)

	require.NoError(t, m.SetPaths([]Point{{X: 3, Y: 0}}))
	require.NoError(t, m.Start())

	terminal, progress := waitTerminal(t, m.Events())
	assert.Equal(t, EventFinished, terminal.Kind)
	assert.Equal(t, "movement", terminal.Mechanism)
	assert.NoError(t, terminal.Err)

	require.Len(t, progress, 1)
	assert.Equal(t, 1.0, progress[0].Progress)
	assert.Equal(t, 1.0, m.Progress())

	assert.Equal(t, 6, bus.Pulses(xStepPin))
	assert.Equal(t, 0, bus.Pulses(yStepPin))
	assert.Equal(t, Point{X: 3, Y: 0}, m.Position())
	assert.Equal(t, StateFinished, m.State())
	assertNoMoreEvents(t, m.Events())
}

func TestMovementMultiplePoints(t *testing.T) {
	bus := device.NewSimBus()
	m := newTestMovement(t, bus, 2.0)

	require.NoError(t, m.AddPoint(Point{X: 2, Y: 1}))
	require.NoError(t, m.AddPoint(Point{X: 0, Y: 3}))
	require.NoError(t, m.AddPoint(Point{X: 0, Y: 3}))
	require.NoError(t, m.Start())

	terminal, progress := waitTerminal(t, m.Events())
	assert.Equal(t, EventFinished, terminal.Kind)

	require.Len(t, progress, 3)
	for i, p := range progress {
		assert.InDelta(t, float64(i+1)/3, p.Progress, 0.0001)
	}

	// 4 forward then 4 back on X, 2 then 4 forward on Y
	assert.Equal(t, 8, bus.Pulses(xStepPin))
	assert.Equal(t, 6, bus.Pulses(yStepPin))
	assert.Equal(t, autotend.Low, bus.Level(xDirPin))
	assert.Equal(t, autotend.High, bus.Level(yDirPin))
	assert.Equal(t, Point{X: 0, Y: 3}, m.Position())
}

func TestMovementEmptyQueue(t *testing.T) {
	m := newTestMovement(t, device.NewSimBus(), 2.0)

	require.NoError(t, m.Start())

	terminal, progress := waitTerminal(t, m.Events())
	assert.Equal(t, EventFinished, terminal.Kind)
	assert.Empty(t, progress)
	assertNoMoreEvents(t, m.Events())
}

func TestMovementEmptyQueueSkipsHoming(t *testing.T) {
	bus := device.NewSimBus()
	home, err := device.NewLimitSwitch(bus, xHomePin, false)
	require.NoError(t, err)

	m, err := NewMovement(
		MovementConfig{StepsPerCm: 2.0, StepDelay: time.Microsecond},
		Axis{Stepper: newStepper(t, bus, xStepPin, xDirPin), Home: home},
		Axis{Stepper: newStepper(t, bus, yStepPin, yDirPin)},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.Start())

	terminal, _ := waitTerminal(t, m.Events())
	assert.Equal(t, EventFinished, terminal.Kind)
	assert.InDelta(t, 1.0, terminal.Progress, 0.0001)
	assert.Equal(t, 0, bus.Pulses(xStepPin))
}

func TestMovementStopBetweenPoints(t *testing.T) {
	bus := device.NewSimBus()
	m := newTestMovement(t, bus, 2.0)

	bus.OnPulse(func(pin, total int) {
		if pin == xStepPin && total == 1 {
			m.Stop()
		}
	})

	require.NoError(t, m.SetPaths([]Point{{X: 1}, {X: 2}, {X: 3}}))
	require.NoError(t, m.Start())

	terminal, progress := waitTerminal(t, m.Events())
	assert.Equal(t, EventStopped, terminal.Kind)
	assert.NoError(t, terminal.Err)

	require.Len(t, progress, 1)
	assert.InDelta(t, 1.0/3, terminal.Progress, 0.0001)
	assert.Equal(t, Point{X: 1}, m.Position())
	assert.Equal(t, 2, bus.Pulses(xStepPin))
	assert.Equal(t, StateStopped, m.State())
	assertNoMoreEvents(t, m.Events())
}

func TestMovementStall(t *testing.T) {
	bus := device.NewSimBus()
	bus.StallAfter(yStepPin, 1)
	m := newTestMovement(t, bus, 1.0)

	require.NoError(t, m.SetPaths([]Point{{X: 2, Y: 2}, {X: 4, Y: 4}}))
	require.NoError(t, m.Start())

	terminal, progress := waitTerminal(t, m.Events())
	assert.Equal(t, EventStopped, terminal.Kind)
	require.ErrorIs(t, terminal.Err, device.ErrStall)

	var devErr *device.Error
	require.ErrorAs(t, terminal.Err, &devErr)
	assert.Equal(t, yStepPin, devErr.Pin)
	assert.Equal(t, 2, devErr.Requested)
	assert.Equal(t, 1, devErr.Actual)

	assert.Empty(t, progress)
	assert.Equal(t, Point{X: 2, Y: 0}, m.Position())
}

func TestMovementHoming(t *testing.T) {
	bus := device.NewSimBus()
	bus.OnPulse(func(pin, total int) {
		if pin == xStepPin && total == 5 {
			bus.SetInput(xHomePin, autotend.High)
		}
	})

	home, err := device.NewLimitSwitch(bus, xHomePin, false)
	require.NoError(t, err)

	m, err := NewMovement(
		MovementConfig{StepsPerCm: 2.0, StepDelay: time.Microsecond},
		Axis{Stepper: newStepper(t, bus, xStepPin, xDirPin), Home: home},
		Axis{Stepper: newStepper(t, bus, yStepPin, yDirPin)},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SetPaths([]Point{{X: 1}}))
	require.NoError(t, m.Start())

	terminal, _ := waitTerminal(t, m.Events())
	assert.Equal(t, EventFinished, terminal.Kind)
	assert.Equal(t, 7, bus.Pulses(xStepPin))
	assert.Equal(t, Point{X: 1}, m.Position())
}

func TestMovementHomingNeverTriggers(t *testing.T) {
	bus := device.NewSimBus()
	home, err := device.NewLimitSwitch(bus, xHomePin, false)
	require.NoError(t, err)

	m, err := NewMovement(
		MovementConfig{StepsPerCm: 2.0, StepDelay: time.Microsecond, MaxHomingSteps: 3},
		Axis{Stepper: newStepper(t, bus, xStepPin, xDirPin), Home: home},
		Axis{Stepper: newStepper(t, bus, yStepPin, yDirPin)},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SetPaths([]Point{{X: 1}}))
	require.NoError(t, m.Start())

	terminal, _ := waitTerminal(t, m.Events())
	assert.Equal(t, EventStopped, terminal.Kind)
	require.ErrorIs(t, terminal.Err, device.ErrStall)
	assert.Equal(t, 3, bus.Pulses(xStepPin))
}

func TestMovementBusyWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	m, err := NewMovement(
		MovementConfig{StepsPerCm: 1.0},
		Axis{Stepper: gatedStepper{gate}},
		Axis{Stepper: gatedStepper{gate}},
		zaptest.NewLogger(t),
	)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SetPaths([]Point{{X: 1, Y: 1}}))
	require.NoError(t, m.Start())
	assert.Equal(t, StateRunning, m.State())

	assert.ErrorIs(t, m.SetStepDelay(time.Millisecond), ErrBusy)
	assert.ErrorIs(t, m.SetPaths(nil), ErrBusy)
	assert.ErrorIs(t, m.AddPoint(Point{}), ErrBusy)
	assert.ErrorIs(t, m.ClearPaths(), ErrBusy)
	assert.ErrorIs(t, m.Start(), ErrBusy)

	close(gate)

	terminal, _ := waitTerminal(t, m.Events())
	assert.Equal(t, EventFinished, terminal.Kind)
	assert.NoError(t, m.SetStepDelay(time.Millisecond))
}

func TestMovementRestart(t *testing.T) {
	bus := device.NewSimBus()
	m := newTestMovement(t, bus, 1.0)

	m.Stop()
	assert.Equal(t, StateIdle, m.State())

	require.NoError(t, m.SetPaths([]Point{{X: 2}}))
	require.NoError(t, m.Start())
	terminal, _ := waitTerminal(t, m.Events())
	assert.Equal(t, EventFinished, terminal.Kind)

	m.Stop()
	assert.Equal(t, StateFinished, m.State())
	assert.Empty(t, m.Paths())

	// position is reset to the origin at the start of each run
	require.NoError(t, m.SetPaths([]Point{{X: 1}}))
	require.NoError(t, m.Start())
	terminal, _ = waitTerminal(t, m.Events())
	assert.Equal(t, EventFinished, terminal.Kind)
	assert.Equal(t, 3, bus.Pulses(xStepPin))
	assert.Equal(t, Point{X: 1}, m.Position())
}

func TestNewMovementInvalid(t *testing.T) {
	bus := device.NewSimBus()
	x := Axis{Stepper: newStepper(t, bus, xStepPin, xDirPin)}

	_, err := NewMovement(MovementConfig{StepsPerCm: 0}, x, x, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = NewMovement(MovementConfig{StepsPerCm: 1}, x, Axis{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func newTestRotation(t *testing.T, bus *device.SimBus, cfg RotationConfig) *Rotation {
	t.Helper()
	if cfg.StepDelay == 0 {
		cfg.StepDelay = time.Microsecond
	}
	r, err := NewRotation(cfg, newStepper(t, bus, rStepPin, device.NoPin), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		r.Close()
	})
	return r
}

func TestRotationTarget(t *testing.T) {
	bus := device.NewSimBus()
	r := newTestRotation(t, bus, RotationConfig{StepsPerRevolution: 200, AngleDegrees: 90})

	require.NoError(t, r.Start())

	terminal, progress := waitTerminal(t, r.Events())
	assert.Equal(t, EventFinished, terminal.Kind)
	assert.Equal(t, 1.0, terminal.Progress)
	assert.Equal(t, 50, bus.Pulses(rStepPin))
	assert.Equal(t, 50, r.Issued())

	require.Len(t, progress, 50)
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i].Progress, progress[i-1].Progress)
	}
	assertNoMoreEvents(t, r.Events())
}

func TestRotationContinuous(t *testing.T) {
	tests := []struct {
		name     string
		end      func(*Rotation)
		expected EventKind
	}{
		{"Finish", (*Rotation).Finish, EventFinished},
		{"Stop", (*Rotation).Stop, EventStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := device.NewSimBus()
			r := newTestRotation(t, bus, RotationConfig{StepsPerRevolution: 200})

			bus.OnPulse(func(pin, total int) {
				if total == 10 {
					tt.end(r)
				}
			})

			require.NoError(t, r.Start())

			terminal, progress := waitTerminal(t, r.Events())
			assert.Equal(t, tt.expected, terminal.Kind)
			assert.Empty(t, progress)
			assert.Equal(t, 10, bus.Pulses(rStepPin))
			assertNoMoreEvents(t, r.Events())
		})
	}
}

func TestRotationRejectedStartKeepsFinish(t *testing.T) {
	gate := make(chan struct{})
	r, err := NewRotation(RotationConfig{StepsPerRevolution: 200}, gatedStepper{gate}, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Start())

	r.Finish()
	assert.ErrorIs(t, r.Start(), ErrBusy)

	close(gate)

	terminal, _ := waitTerminal(t, r.Events())
	assert.Equal(t, EventFinished, terminal.Kind)
}

func TestRotationStopBeatsFinish(t *testing.T) {
	bus := device.NewSimBus()
	r := newTestRotation(t, bus, RotationConfig{StepsPerRevolution: 200})

	bus.OnPulse(func(pin, total int) {
		if total == 3 {
			r.Finish()
			r.Stop()
		}
	})

	require.NoError(t, r.Start())
	terminal, _ := waitTerminal(t, r.Events())
	assert.Equal(t, EventStopped, terminal.Kind)
}

func TestRotationStall(t *testing.T) {
	bus := device.NewSimBus()
	bus.StallAfter(rStepPin, 4)
	r := newTestRotation(t, bus, RotationConfig{StepsPerRevolution: 200, AngleDegrees: 360})

	require.NoError(t, r.Start())

	terminal, _ := waitTerminal(t, r.Events())
	assert.Equal(t, EventStopped, terminal.Kind)
	require.ErrorIs(t, terminal.Err, device.ErrStall)
	assert.Equal(t, 4, r.Issued())
}

func TestRotationIgnoresRequestsWhenIdle(t *testing.T) {
	r := newTestRotation(t, device.NewSimBus(), RotationConfig{StepsPerRevolution: 200})

	r.Finish()
	r.Stop()
	assert.Equal(t, StateIdle, r.State())
	assert.NoError(t, r.SetStepDelay(time.Millisecond))
}

func TestRotationTargetSteps(t *testing.T) {
	tests := []struct {
		name     string
		cfg      RotationConfig
		expected int
	}{
		{"Continuous", RotationConfig{StepsPerRevolution: 200}, 0},
		{"Quarter", RotationConfig{StepsPerRevolution: 200, AngleDegrees: 90}, 50},
		{"RoundsUp", RotationConfig{StepsPerRevolution: 4096, AngleDegrees: 1}, 12},
		{"TwoTurns", RotationConfig{StepsPerRevolution: 200, AngleDegrees: 720}, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.TargetSteps())
		})
	}
}
