package mechanism

import (
	"errors"
	"math"
	"sync/atomic"
	"time"

	"github.com/calvinmclean/autotend/metrics"
	"go.uber.org/zap"
)

// RotationConfig has the calibration for the rotating axis. An AngleDegrees of 0 makes the
// axis turn until Finish or Stop is called
type RotationConfig struct {
	StepsPerRevolution int
	AngleDegrees       float64
	StepDelay          time.Duration
}

// TargetSteps is the number of steps needed to turn AngleDegrees, or 0 when turning continuously
func (c RotationConfig) TargetSteps() int {
	return int(math.Ceil(math.Abs(c.AngleDegrees) / 360 * float64(c.StepsPerRevolution)))
}

// Rotation drives a single rotating axis one step at a time
type Rotation struct {
	*lifecycle

	cfg     RotationConfig
	stepper Stepper

	finishRequested atomic.Bool
	issued          atomic.Int64
}

func NewRotation(cfg RotationConfig, stepper Stepper, logger *zap.Logger) (*Rotation, error) {
	if cfg.StepsPerRevolution <= 0 {
		return nil, errors.New("invalid StepsPerRevolution")
	}
	if stepper == nil {
		return nil, errors.New("missing stepper")
	}
	if cfg.StepDelay == 0 {
		cfg.StepDelay = defaultStepDelay
	}

	return &Rotation{
		lifecycle: newLifecycle("rotation", logger),
		cfg:       cfg,
		stepper:   stepper,
	}, nil
}

func (r *Rotation) SetStepDelay(d time.Duration) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	err := r.idle()
	if err != nil {
		return err
	}
	r.cfg.StepDelay = d
	return nil
}

// Issued is the number of steps taken in the current or last run
func (r *Rotation) Issued() int {
	return int(r.issued.Load())
}

// Finish asks a running Rotation to end with Finished after the current step. It does
// nothing unless running. Stop takes priority when both are requested
func (r *Rotation) Finish() {
	if r.State() == StateRunning {
		r.finishRequested.Store(true)
	}
}

func (r *Rotation) Start() error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	// a Finish can only be pending while running, and then Start is rejected
	err := r.idle()
	if err != nil {
		return err
	}
	r.finishRequested.Store(false)

	err = r.begin()
	if err != nil {
		return err
	}
	r.issued.Store(0)
	cfg := r.cfg

	r.logger.Info("starting", zap.Int("target_steps", cfg.TargetSteps()), zap.Duration("step_delay", cfg.StepDelay))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(cfg)
	}()

	return nil
}

func (r *Rotation) run(cfg RotationConfig) {
	target := cfg.TargetSteps()
	lastPercent := 0

	for i := 0; target == 0 || i < target; i++ {
		if r.stopRequested.Load() {
			r.stop(nil)
			return
		}
		if r.finishRequested.Load() {
			break
		}

		_, err := r.stepper.Step(1, cfg.StepDelay)
		if err != nil {
			r.stop(err)
			return
		}
		r.issued.Add(1)
		metrics.StepsTotal.WithLabelValues("rotation").Inc()

		if target == 0 {
			continue
		}

		percent := (i + 1) * 100 / target
		if percent != lastPercent {
			lastPercent = percent
			r.setProgress(float64(i+1) / float64(target))
			r.emitProgress()
		}
	}

	r.setProgress(1)
	r.finish()
}
