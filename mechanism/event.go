package mechanism

import (
	"errors"

	"github.com/calvinmclean/autotend/device"
	"github.com/calvinmclean/autotend/metrics"
	"go.uber.org/zap"
)

const progressScale = 1_000_000

type EventKind int

const (
	EventProgress EventKind = iota
	EventFinished
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "Progress"
	case EventFinished:
		return "Finished"
	case EventStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Terminal is true for Finished and Stopped
func (k EventKind) Terminal() bool {
	return k == EventFinished || k == EventStopped
}

// Event is sent on a mechanism's event channel. Err is only set on a Stopped event that
// was caused by a device error
type Event struct {
	Mechanism string
	Kind      EventKind
	Progress  float64
	Err       error
}

// logDeviceError logs err with the device context that caused it
func logDeviceError(logger *zap.Logger, mechanism string, err error) {
	fields := []zap.Field{zap.Error(err)}

	var devErr *device.Error
	if errors.As(err, &devErr) {
		fields = append(fields,
			zap.Int("pin", devErr.Pin),
			zap.Stringer("mode", devErr.Mode),
			zap.Stringer("level", devErr.Level),
			zap.Int("requested", devErr.Requested),
			zap.Int("actual", devErr.Actual),
		)
	}

	if errors.Is(err, device.ErrStall) {
		metrics.StallsTotal.WithLabelValues(mechanism).Inc()
	}

	logger.Error("stopped by device error", fields...)
}
