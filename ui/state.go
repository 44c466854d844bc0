package ui

import (
	"image/color"
	"strings"

	"github.com/calvinmclean/autotend"
)

var (
	colorIdle    = color.RGBA{R: 96, G: 96, B: 96, A: 255}
	colorTending = color.RGBA{R: 0, G: 128, B: 0, A: 255}
)

func stateColor(s autotend.MachineState) color.Color {
	if s == autotend.MachineStateTending {
		return colorTending
	}
	return colorIdle
}

// logBuffer keeps the most recent lines for the log view
type logBuffer struct {
	max   int
	lines []string
}

func newLogBuffer(max int) *logBuffer {
	return &logBuffer{max: max}
}

func (b *logBuffer) Add(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *logBuffer) String() string {
	return strings.Join(b.lines, "\n")
}
