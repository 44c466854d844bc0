package ui

import (
	"context"
	"fmt"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/config"
	"github.com/calvinmclean/autotend/controller"
	"github.com/calvinmclean/autotend/logging"
	"go.uber.org/zap"
)

const (
	appID       = "com.calvinmclean.autotend"
	maxLogLines = 200
)

type TendingUI struct {
	cfg    config.Config
	logger *zap.Logger
	hub    *logging.Hub

	closers []func()
}

// NewTendingUI creates the UI. Lines published to hub are shown in the log view
func NewTendingUI(cfg config.Config, logger *zap.Logger, hub *logging.Hub) *TendingUI {
	return &TendingUI{cfg: cfg, logger: logger, hub: hub}
}

// Run shows the configuration window and then the main window. It blocks until the
// application quits or ctx is canceled
func (ui *TendingUI) Run(ctx context.Context) {
	application := app.NewWithID(appID)

	cw := NewConfigWindow(application)
	cw.OnSubmit = func() {
		err := ui.showMain(ctx, application)
		if err != nil {
			ui.logger.Error("error starting", zap.Error(err))
			window := application.NewWindow("Auto Tend - Error")
			window.Show()
			showError(application, window, err)
		}
	}
	cw.Show(&ui.cfg)

	go func() {
		<-ctx.Done()
		fyne.Do(func() {
			application.Quit()
		})
	}()

	application.Run()

	for i := len(ui.closers) - 1; i >= 0; i-- {
		ui.closers[i]()
	}
}

func (ui *TendingUI) showMain(ctx context.Context, application fyne.App) error {
	bus, closeBus, err := controller.OpenBus(ui.cfg.Serial, ui.logger)
	if err != nil {
		return err
	}
	ui.closers = append(ui.closers, func() {
		err := closeBus()
		if err != nil {
			ui.logger.Warn("error closing bus", zap.Error(err))
		}
	})

	svc, err := controller.NewFromConfig(ui.cfg, bus, ui.logger)
	if err != nil {
		return fmt.Errorf("error creating tending service: %w", err)
	}
	ui.closers = append(ui.closers, svc.Close)

	t := newTimer()
	t.Go()
	ui.closers = append(ui.closers, t.Close)

	c := &controllerWrapper{
		svc:          svc,
		logger:       ui.logger,
		timer:        t,
		stateLabel:   canvas.NewText(autotend.MachineStateIdle.String(), stateColor(autotend.MachineStateIdle)),
		movementBar:  widget.NewProgressBar(),
		rotationBar:  widget.NewProgressBar(),
		outcomeLabel: widget.NewLabel(""),
	}
	c.stateLabel.TextStyle = fyne.TextStyle{Bold: true}
	c.stateLabel.TextSize = theme.TextHeadingSize()

	c.tendButton = widget.NewButton("Tend", func() {
		c.Tend(ctx)
	})
	c.tendButton.Importance = widget.HighImportance
	c.stopButton = widget.NewButton("Stop", c.Stop)
	c.stopButton.Importance = widget.DangerImportance
	c.stopButton.Disable()

	svc.Subscribe(c)

	window := application.NewWindow("Auto Tend")

	content := container.NewVBox(
		container.NewHBox(
			container.NewPadded(c.stateLabel),
			layout.NewSpacer(),
			container.NewPadded(t.text),
		),
		container.NewGridWithColumns(2, c.tendButton, c.stopButton),
		container.NewGridWithColumns(2, widget.NewLabel("Movement"), c.movementBar),
		container.NewGridWithColumns(2, widget.NewLabel("Rotation"), c.rotationBar),
		c.outcomeLabel,
		ui.createLogAccordion(),
	)

	window.SetCloseIntercept(func() {
		svc.Stop()
		window.Close()
		application.Quit()
	})
	window.SetContent(content)
	window.Resize(fyne.NewSize(400, 300))
	window.Show()

	return nil
}

func (ui *TendingUI) createLogAccordion() *widget.Accordion {
	logContent := widget.NewLabel("")
	logContent.Wrapping = fyne.TextWrapWord
	logScroll := container.NewVScroll(logContent)
	logScroll.SetMinSize(fyne.NewSize(300, 150))

	buf := newLogBuffer(maxLogLines)
	if ui.hub != nil {
		ui.hub.Subscribe(func(l logging.Line) {
			text := l.String()
			fyne.Do(func() {
				buf.Add(text)
				logContent.SetText(buf.String())
				logScroll.ScrollToBottom()
			})
		})
	}

	return widget.NewAccordion(
		widget.NewAccordionItem("Logs", logScroll),
	)
}
