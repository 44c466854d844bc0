package tester_test

import (
	"os"
	"testing"
	"time"

	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/bridge"
	"github.com/calvinmclean/autotend/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// These tests run against the bridge firmware on a real board. Set AUTOTEND_TEST_PORT to
// the board's serial port to run them
const (
	ledPin      = 25
	coilStepPin = autotend.VirtualPinBase
	coilDirPin  = autotend.VirtualPinBase + 1
)

func openBus(t *testing.T) *bridge.Bus {
	t.Helper()

	port := os.Getenv("AUTOTEND_TEST_PORT")
	if port == "" {
		t.Skip("AUTOTEND_TEST_PORT is not set")
	}

	bus, err := bridge.Open(port, 115200, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		bus.Close()
	})

	// the board resets when the port is opened
	time.Sleep(time.Second)

	return bus
}

func TestSerial(t *testing.T) {
	bus := openBus(t)

	t.Run("WriteLED", func(t *testing.T) {
		led, err := device.NewGPIO(bus, ledPin, autotend.ModeOutput)
		require.NoError(t, err)

		require.NoError(t, led.Write(autotend.High))
		time.Sleep(250 * time.Millisecond)
		require.NoError(t, led.Write(autotend.Low))
	})

	t.Run("ReadOnOutputIsRejected", func(t *testing.T) {
		led, err := device.NewGPIO(bus, ledPin, autotend.ModeOutput)
		require.NoError(t, err)

		_, err = led.Read()
		assert.ErrorIs(t, err, device.ErrWrongMode)
	})

	t.Run("UnknownPin", func(t *testing.T) {
		_, err := bus.Pulse(autotend.VirtualPinBase+50, 1, time.Millisecond)
		var remoteErr *bridge.RemoteError
		assert.ErrorAs(t, err, &remoteErr)
	})

	t.Run("StepCoil", func(t *testing.T) {
		stepper, err := device.NewStepper(bus, device.StepperConfig{StepPin: coilStepPin, DirPin: coilDirPin})
		require.NoError(t, err)

		issued, err := stepper.Step(64, 2*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 64, issued)

		issued, err = stepper.Step(-64, 2*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, -64, issued)
	})
}
