package mechanism

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/calvinmclean/autotend/device"
	"github.com/calvinmclean/autotend/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultStepDelay      = 500 * time.Microsecond
	defaultMaxHomingSteps = 20000
)

// Stepper advances a motor and reports how many steps were actually issued
type Stepper interface {
	Step(n int, delay time.Duration) (int, error)
}

// LimitSwitch reports when an axis is at the end of its travel
type LimitSwitch interface {
	IsTriggered() (bool, error)
}

// Point is a target position in whole centimeters
type Point struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// Axis is one linear axis of the Movement. Home is optional. When it is set, the axis is
// driven backwards until it triggers at the start of every run
type Axis struct {
	Stepper Stepper
	Home    LimitSwitch
}

// MovementConfig has the calibration for the two linear axes
type MovementConfig struct {
	StepsPerCm     float64
	StepDelay      time.Duration
	MaxHomingSteps int
}

// CmToSteps converts a distance to a step count. Partial steps round away from zero so an axis
// never falls short of its target
func CmToSteps(cm int, stepsPerCm float64) int {
	steps := int(math.Ceil(math.Abs(float64(cm)) * stepsPerCm))
	if cm < 0 {
		return -steps
	}
	return steps
}

// Movement drives the X and Y axes through a queue of points. Both axes move at the same time
// for each point and points are visited in order
type Movement struct {
	*lifecycle

	cfg  MovementConfig
	x, y Axis

	// paths is the queue for the next run. Only changed while not running
	paths []Point

	// position is only written by the run goroutine
	posMtx   sync.RWMutex
	position Point
}

func NewMovement(cfg MovementConfig, x, y Axis, logger *zap.Logger) (*Movement, error) {
	if cfg.StepsPerCm <= 0 {
		return nil, errors.New("invalid StepsPerCm")
	}
	if x.Stepper == nil || y.Stepper == nil {
		return nil, errors.New("missing axis stepper")
	}
	if cfg.StepDelay == 0 {
		cfg.StepDelay = defaultStepDelay
	}
	if cfg.MaxHomingSteps == 0 {
		cfg.MaxHomingSteps = defaultMaxHomingSteps
	}

	return &Movement{
		lifecycle: newLifecycle("movement", logger),
		cfg:       cfg,
		x:         x,
		y:         y,
	}, nil
}

// SetPaths replaces the queue for the next run
func (m *Movement) SetPaths(points []Point) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	err := m.idle()
	if err != nil {
		return err
	}
	m.paths = append([]Point(nil), points...)
	return nil
}

// AddPoint appends a point to the queue for the next run
func (m *Movement) AddPoint(p Point) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	err := m.idle()
	if err != nil {
		return err
	}
	m.paths = append(m.paths, p)
	return nil
}

func (m *Movement) ClearPaths() error {
	return m.SetPaths(nil)
}

// Paths returns a copy of the queue
func (m *Movement) Paths() []Point {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return append([]Point(nil), m.paths...)
}

func (m *Movement) SetStepDelay(d time.Duration) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	err := m.idle()
	if err != nil {
		return err
	}
	m.cfg.StepDelay = d
	return nil
}

// Position is the last position both axes are known to have reached
func (m *Movement) Position() Point {
	m.posMtx.RLock()
	defer m.posMtx.RUnlock()
	return m.position
}

// Start resets the Movement and runs the queued points on a new goroutine. The queue is
// consumed by the run, so it has to be set again before the next one
func (m *Movement) Start() error {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	err := m.begin()
	if err != nil {
		return err
	}

	queue := m.paths
	m.paths = nil
	cfg := m.cfg

	m.logger.Info("starting", zap.Int("points", len(queue)), zap.Duration("step_delay", cfg.StepDelay))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(cfg, queue)
	}()

	return nil
}

func (m *Movement) run(cfg MovementConfig, queue []Point) {
	// nothing to visit, so the axes are not homed either
	if len(queue) == 0 {
		m.setProgress(1)
		m.finish()
		return
	}

	err := m.home(cfg)
	if errors.Is(err, errStopRequested) {
		m.stop(nil)
		return
	}
	if err != nil {
		m.stop(err)
		return
	}

	for i, p := range queue {
		if m.stopRequested.Load() {
			m.stop(nil)
			return
		}

		err := m.moveTo(cfg, p)
		if err != nil {
			m.stop(err)
			return
		}

		m.setProgress(float64(i+1) / float64(len(queue)))
		m.emitProgress()
	}

	m.finish()
}

var errStopRequested = errors.New("stop requested")

// home drives each axis with a home switch back until it triggers. Axes without a switch are
// assumed to already be at the origin
func (m *Movement) home(cfg MovementConfig) error {
	for _, a := range []struct {
		name string
		axis Axis
	}{{"x", m.x}, {"y", m.y}} {
		if a.axis.Home == nil {
			continue
		}

		for steps := 0; ; steps++ {
			triggered, err := a.axis.Home.IsTriggered()
			if err != nil {
				return fmt.Errorf("error reading %s home switch: %w", a.name, err)
			}
			if triggered {
				m.logger.Debug("axis homed", zap.String("axis", a.name), zap.Int("steps", steps))
				break
			}
			if steps >= cfg.MaxHomingSteps {
				return fmt.Errorf("%s axis not home after %d steps: %w", a.name, steps, device.ErrStall)
			}
			if m.stopRequested.Load() {
				return errStopRequested
			}

			_, err = a.axis.Stepper.Step(-1, cfg.StepDelay)
			if err != nil {
				return err
			}
			metrics.StepsTotal.WithLabelValues(a.name).Inc()
		}
	}

	m.posMtx.Lock()
	m.position = Point{}
	m.posMtx.Unlock()

	return nil
}

// moveTo steps both axes to p at the same time. An axis that completes its steps is recorded
// at its new position even if the other axis fails
func (m *Movement) moveTo(cfg MovementConfig, p Point) error {
	from := m.Position()
	xSteps := CmToSteps(p.X-from.X, cfg.StepsPerCm)
	ySteps := CmToSteps(p.Y-from.Y, cfg.StepsPerCm)

	var xErr, yErr error
	var g errgroup.Group
	g.Go(func() error {
		xErr = m.stepAxis("x", m.x.Stepper, xSteps, cfg.StepDelay)
		return xErr
	})
	g.Go(func() error {
		yErr = m.stepAxis("y", m.y.Stepper, ySteps, cfg.StepDelay)
		return yErr
	})
	err := g.Wait()

	m.posMtx.Lock()
	if xErr == nil {
		m.position.X = p.X
	}
	if yErr == nil {
		m.position.Y = p.Y
	}
	m.posMtx.Unlock()

	if err != nil {
		return errors.Join(xErr, yErr)
	}

	m.logger.Debug("reached point", zap.Int("x", p.X), zap.Int("y", p.Y), zap.Int("x_steps", xSteps), zap.Int("y_steps", ySteps))
	return nil
}

func (m *Movement) stepAxis(axis string, s Stepper, steps int, delay time.Duration) error {
	if steps == 0 {
		return nil
	}

	issued, err := s.Step(steps, delay)
	if issued < 0 {
		issued = -issued
	}
	metrics.StepsTotal.WithLabelValues(axis).Add(float64(issued))

	if err != nil {
		return fmt.Errorf("%s axis: %w", axis, err)
	}
	return nil
}
