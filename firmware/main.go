//go:build tinygo

package main

import (
	"machine"
	"time"

	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/firmware/commands"
	"github.com/calvinmclean/autotend/firmware/device"
	"tinygo.org/x/drivers/easystepper"
)

func main() {
	pins, err := device.NewPins([]device.CoilConfig{
		{
			// 28BYJ-48 turntable, addressed by the host as step pin 100 and direction pin 101
			StepPin: autotend.VirtualPinBase,
			DirPin:  autotend.VirtualPinBase + 1,
			Stepper: easystepper.DeviceConfig{
				Pin1: machine.GP16, Pin2: machine.GP17, Pin3: machine.GP18, Pin4: machine.GP19,
				StepCount: 4096,
				RPM:       10,
				Mode:      easystepper.ModeFour,
			},
		},
	})
	if err != nil {
		panic(err)
	}

	for {
		err = commands.Run(pins, serialPort{})
		if err != nil {
			println("error:", err.Error())
		}
	}
}

// serialPort adapts machine.Serial to an io.ReadWriter
type serialPort struct{}

func (serialPort) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			time.Sleep(time.Millisecond)
			continue
		}
		p[0] = b
		return 1, nil
	}
}

func (serialPort) Write(p []byte) (int, error) {
	return machine.Serial.Write(p)
}
