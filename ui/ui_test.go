package ui

import (
	"fmt"
	"testing"
	"time"

	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/bridge"
	"github.com/calvinmclean/autotend/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		elapsed  time.Duration
		expected string
	}{
		{0, "00:00.0"},
		{1500 * time.Millisecond, "00:01.5"},
		{61*time.Second + 999*time.Millisecond, "01:01.9"},
		{12 * time.Minute, "12:00.0"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatElapsed(tt.elapsed))
		})
	}
}

func TestStateColor(t *testing.T) {
	assert.NotEqual(t, stateColor(autotend.MachineStateIdle), stateColor(autotend.MachineStateTending))
}

func TestLogBuffer(t *testing.T) {
	buf := newLogBuffer(3)
	assert.Equal(t, "", buf.String())

	for i := range 5 {
		buf.Add(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, "line 2\nline 3\nline 4", buf.String())
}

func validConfig() config.Config {
	cfg := config.Default()
	cfg.Movement.X.StepPin = 1
	cfg.Movement.Y.StepPin = 2
	cfg.Movement.StepsPerCm = 10
	cfg.Rotation.StepPin = 3
	cfg.Rotation.StepsPerRevolution = 200
	return cfg
}

func TestConfigFormApply(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		cfg := validConfig()
		form := newConfigForm(cfg)
		form.SerialPort = "/dev/ttyACM0"
		form.BaudRate = "9600"
		form.JournalAddr = "http://localhost:8080"
		form.SettleInterval = "1ms"

		require.NoError(t, form.apply(&cfg))
		assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
		assert.Equal(t, 9600, cfg.Serial.Baud)
		assert.Equal(t, "http://localhost:8080", cfg.Journal.Addr)
		assert.Equal(t, time.Millisecond, cfg.Tending.SettleInterval)
	})

	t.Run("NoneUsesSimulatedBus", func(t *testing.T) {
		cfg := validConfig()
		cfg.Serial.Port = "/dev/ttyACM0"
		form := newConfigForm(cfg)
		form.SerialPort = bridge.SerialPortNone

		require.NoError(t, form.apply(&cfg))
		assert.Equal(t, "", cfg.Serial.Port)
	})

	t.Run("Invalid", func(t *testing.T) {
		tests := []struct {
			name   string
			modify func(*configForm)
		}{
			{"BaudNotNumber", func(f *configForm) { f.BaudRate = "fast" }},
			{"BaudZero", func(f *configForm) { f.SerialPort, f.BaudRate = "/dev/ttyACM0", "0" }},
			{"SettleNotDuration", func(f *configForm) { f.SettleInterval = "soon" }},
			{"SettleNegative", func(f *configForm) { f.SettleInterval = "-1ms" }},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				cfg := validConfig()
				form := newConfigForm(cfg)
				tt.modify(&form)

				assert.Error(t, form.apply(&cfg))
				assert.Equal(t, validConfig(), cfg)
			})
		}
	})
}
