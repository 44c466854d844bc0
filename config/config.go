package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/calvinmclean/autotend/device"
	"github.com/calvinmclean/autotend/mechanism"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultBaud           = 115200
	defaultStepDelay      = 500 * time.Microsecond
	defaultSettleInterval = 200 * time.Microsecond
	defaultStartDelay     = 100 * time.Millisecond
	defaultMaxHomingSteps = 20000
	defaultMetricsAddr    = ":9090"
)

// Config is the full machine configuration
type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Movement MovementConfig `yaml:"movement"`
	Rotation RotationConfig `yaml:"rotation"`
	Tending  TendingConfig  `yaml:"tending"`
	Journal  JournalConfig  `yaml:"journal"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// SerialConfig is the connection to the bridge firmware. An empty Port uses the simulated bus
type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

// AxisConfig has the pins for one linear axis. DirPin and HomePin are optional
type AxisConfig struct {
	StepPin       int  `yaml:"step_pin"`
	DirPin        int  `yaml:"dir_pin"`
	HomePin       int  `yaml:"home_pin"`
	HomeActiveLow bool `yaml:"home_active_low"`
}

type MovementConfig struct {
	X              AxisConfig        `yaml:"x"`
	Y              AxisConfig        `yaml:"y"`
	StepsPerCm     float64           `yaml:"steps_per_cm"`
	StepDelay      time.Duration     `yaml:"step_delay"`
	MaxHomingSteps int               `yaml:"max_homing_steps"`
	Path           []mechanism.Point `yaml:"path"`
}

type RotationConfig struct {
	StepPin            int           `yaml:"step_pin"`
	DirPin             int           `yaml:"dir_pin"`
	StepsPerRevolution int           `yaml:"steps_per_revolution"`
	AngleDegrees       float64       `yaml:"angle_degrees"`
	StepDelay          time.Duration `yaml:"step_delay"`
}

type TendingConfig struct {
	// SettleInterval is the wait between starting Rotation and starting Movement
	SettleInterval time.Duration `yaml:"settle_interval"`
	StartDelay     time.Duration `yaml:"start_delay"`
}

// JournalConfig is the address of the run journal service. Empty disables it
type JournalConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig is the listen address for /metrics. Empty disables it
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config with every optional value set. Pins are unset and must be configured
func Default() Config {
	return Config{
		Serial: SerialConfig{Baud: defaultBaud},
		Movement: MovementConfig{
			X:              AxisConfig{StepPin: device.NoPin, DirPin: device.NoPin, HomePin: device.NoPin},
			Y:              AxisConfig{StepPin: device.NoPin, DirPin: device.NoPin, HomePin: device.NoPin},
			StepDelay:      defaultStepDelay,
			MaxHomingSteps: defaultMaxHomingSteps,
		},
		Rotation: RotationConfig{
			StepPin:   device.NoPin,
			DirPin:    device.NoPin,
			StepDelay: defaultStepDelay,
		},
		Tending: TendingConfig{
			SettleInterval: defaultSettleInterval,
			StartDelay:     defaultStartDelay,
		},
		Metrics: MetricsConfig{Addr: defaultMetricsAddr},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies a .env file and
// AUTOTEND_* environment variables. An empty path skips the file. The result is validated
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(data, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	err := godotenv.Load()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("error loading .env file: %w", err)
	}

	err = cfg.applyEnv()
	if err != nil {
		return Config{}, err
	}

	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port, ok := os.LookupEnv("AUTOTEND_SERIAL_PORT"); ok {
		c.Serial.Port = port
	}
	if baud, ok := os.LookupEnv("AUTOTEND_SERIAL_BAUD"); ok {
		b, err := strconv.Atoi(baud)
		if err != nil {
			return &Error{Field: "AUTOTEND_SERIAL_BAUD", Reason: "not a number: " + baud}
		}
		c.Serial.Baud = b
	}
	if addr, ok := os.LookupEnv("AUTOTEND_JOURNAL_ADDR"); ok {
		c.Journal.Addr = addr
	}
	if addr, ok := os.LookupEnv("AUTOTEND_METRICS_ADDR"); ok {
		c.Metrics.Addr = addr
	}
	if level, ok := os.LookupEnv("AUTOTEND_LOG_LEVEL"); ok {
		c.Log.Level = level
	}
	if format, ok := os.LookupEnv("AUTOTEND_LOG_FORMAT"); ok {
		c.Log.Format = format
	}
	return nil
}

// MechanismMovement converts to the mechanism package's calibration
func (c MovementConfig) MechanismMovement() mechanism.MovementConfig {
	return mechanism.MovementConfig{
		StepsPerCm:     c.StepsPerCm,
		StepDelay:      c.StepDelay,
		MaxHomingSteps: c.MaxHomingSteps,
	}
}

func (c RotationConfig) MechanismRotation() mechanism.RotationConfig {
	return mechanism.RotationConfig{
		StepsPerRevolution: c.StepsPerRevolution,
		AngleDegrees:       c.AngleDegrees,
		StepDelay:          c.StepDelay,
	}
}
