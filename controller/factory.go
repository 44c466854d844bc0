package controller

import (
	"fmt"

	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/bridge"
	"github.com/calvinmclean/autotend/config"
	"github.com/calvinmclean/autotend/device"
	"github.com/calvinmclean/autotend/journal"
	"github.com/calvinmclean/autotend/mechanism"
	"go.uber.org/zap"
)

// OpenBus connects to the bridge firmware on the configured serial port. An empty port or
// bridge.SerialPortNone returns a simulated bus. The returned close func is never nil
func OpenBus(cfg config.SerialConfig, logger *zap.Logger) (device.Bus, func() error, error) {
	if cfg.Port == "" || cfg.Port == bridge.SerialPortNone {
		logger.Info("no serial port configured, using simulated bus")
		return device.NewSimBus(), func() error { return nil }, nil
	}

	bus, err := bridge.Open(cfg.Port, cfg.Baud, logger.Named("bridge"))
	if err != nil {
		return nil, nil, fmt.Errorf("error opening serial port %q: %w", cfg.Port, err)
	}
	return bus, bus.Close, nil
}

// NewFromConfig builds the mechanisms described by cfg on top of bus and returns a
// TendingService for them
func NewFromConfig(cfg config.Config, bus device.Bus, logger *zap.Logger) (*TendingService, error) {
	x, err := newAxis(bus, cfg.Movement.X)
	if err != nil {
		return nil, fmt.Errorf("error creating X axis: %w", err)
	}
	y, err := newAxis(bus, cfg.Movement.Y)
	if err != nil {
		return nil, fmt.Errorf("error creating Y axis: %w", err)
	}

	movement, err := mechanism.NewMovement(cfg.Movement.MechanismMovement(), x, y, logger.Named("movement"))
	if err != nil {
		return nil, fmt.Errorf("error creating movement: %w", err)
	}

	rotationStepper, err := device.NewStepper(bus, device.StepperConfig{
		StepPin: cfg.Rotation.StepPin,
		DirPin:  cfg.Rotation.DirPin,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating rotation stepper: %w", err)
	}

	rotation, err := mechanism.NewRotation(cfg.Rotation.MechanismRotation(), rotationStepper, logger.Named("rotation"))
	if err != nil {
		return nil, fmt.Errorf("error creating rotation: %w", err)
	}

	opts := Options{
		Path:           cfg.Movement.Path,
		StartDelay:     cfg.Tending.StartDelay,
		SettleInterval: cfg.Tending.SettleInterval,
	}
	if cfg.Journal.Addr != "" {
		opts.Journal = journal.NewClient(cfg.Journal.Addr)
	}

	return New(autotend.NewState(), movement, rotation, opts, logger.Named("tending"))
}

func newAxis(bus device.Bus, cfg config.AxisConfig) (mechanism.Axis, error) {
	stepper, err := device.NewStepper(bus, device.StepperConfig{
		StepPin: cfg.StepPin,
		DirPin:  cfg.DirPin,
	})
	if err != nil {
		return mechanism.Axis{}, err
	}

	axis := mechanism.Axis{Stepper: stepper}
	if cfg.HomePin != device.NoPin {
		home, err := device.NewLimitSwitch(bus, cfg.HomePin, cfg.HomeActiveLow)
		if err != nil {
			return mechanism.Axis{}, fmt.Errorf("error creating home switch: %w", err)
		}
		axis.Home = home
	}

	return axis, nil
}
