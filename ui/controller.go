package ui

import (
	"context"
	"errors"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/controller"
	"go.uber.org/zap"
)

// controllerWrapper connects the window's widgets to a TendingService. It is the service's
// Observer so every widget update goes through fyne.Do
type controllerWrapper struct {
	svc    *controller.TendingService
	logger *zap.Logger
	timer  *timer

	stateLabel   *canvas.Text
	tendButton   *widget.Button
	stopButton   *widget.Button
	movementBar  *widget.ProgressBar
	rotationBar  *widget.ProgressBar
	outcomeLabel *widget.Label
}

var _ controller.Observer = &controllerWrapper{}

func (c *controllerWrapper) Tend(ctx context.Context) {
	c.movementBar.SetValue(0)
	c.rotationBar.SetValue(0)
	c.outcomeLabel.SetText("")

	go func() {
		err := c.svc.Execute(ctx)
		if errors.Is(err, controller.ErrAlreadyRunning) {
			c.logger.Warn("tend ignored", zap.Error(err))
			return
		}
		if err != nil {
			c.logger.Error("error starting tending", zap.Error(err))
		}

		outcome, err := c.svc.Wait(ctx)
		text := string(outcome)
		if err != nil {
			text += ": " + err.Error()
		}
		fyne.Do(func() {
			c.outcomeLabel.SetText(text)
		})
	}()
}

func (c *controllerWrapper) Stop() {
	c.svc.Stop()
}

// Progress implements controller.Observer.
func (c *controllerWrapper) Progress(name string, progress float64) {
	fyne.Do(func() {
		switch name {
		case "movement":
			c.movementBar.SetValue(progress)
		case "rotation":
			c.rotationBar.SetValue(progress)
		}
	})
}

// MachineState implements controller.Observer.
func (c *controllerWrapper) MachineState(s autotend.MachineState) {
	if s == autotend.MachineStateTending {
		c.timer.Start(time.Now())
	} else {
		c.timer.Pause()
	}

	fyne.Do(func() {
		c.stateLabel.Text = s.String()
		c.stateLabel.Color = stateColor(s)
		c.stateLabel.Refresh()

		if s == autotend.MachineStateTending {
			c.tendButton.Disable()
			c.stopButton.Enable()
		} else {
			c.tendButton.Enable()
			c.stopButton.Disable()
		}
	})
}
