package logging

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"Warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"nonsense", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.in))
		})
	}
}

func TestHub(t *testing.T) {
	var mtx sync.Mutex
	var lines []Line

	hub := NewHub()
	hub.Subscribe(func(l Line) {
		mtx.Lock()
		lines = append(lines, l)
		mtx.Unlock()
	})

	var buf bytes.Buffer
	logger := New(&buf, "info", FormatJSON, hub).Named("movement").With(zap.Int("run", 1))

	logger.Debug("hidden")
	logger.Error("stopped by device error", zap.Int("pin", 4), zap.Error(errors.New("stall")))

	require.Len(t, lines, 1)
	l := lines[0]
	assert.Equal(t, zapcore.ErrorLevel, l.Level)
	assert.Equal(t, "movement", l.Logger)
	assert.Equal(t, "stopped by device error", l.Message)
	assert.Equal(t, int64(4), l.Fields["pin"])
	assert.Equal(t, int64(1), l.Fields["run"])
	assert.Equal(t, "stall", l.Fields["error"])

	assert.Contains(t, buf.String(), `"msg":"stopped by device error"`)
	assert.NotContains(t, buf.String(), "hidden")
}

func TestLineString(t *testing.T) {
	l := Line{
		Time:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   zapcore.InfoLevel,
		Logger:  "tending",
		Message: "finished",
		Fields:  map[string]any{"run": "abc", "duration": "1s"},
	}
	assert.Equal(t, "03:04:05 INFO tending: finished duration=1s run=abc", l.String())
}
