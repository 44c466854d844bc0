package ui

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/data/binding"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"
	"github.com/calvinmclean/autotend/bridge"
	"github.com/calvinmclean/autotend/config"
)

// configForm holds the editable fields as text while the window is open
type configForm struct {
	SerialPort     string
	BaudRate       string
	JournalAddr    string
	SettleInterval string
}

func newConfigForm(cfg config.Config) configForm {
	return configForm{
		SerialPort:     cfg.Serial.Port,
		BaudRate:       strconv.Itoa(cfg.Serial.Baud),
		JournalAddr:    cfg.Journal.Addr,
		SettleInterval: cfg.Tending.SettleInterval.String(),
	}
}

// apply parses the form into cfg and validates the result
func (f configForm) apply(cfg *config.Config) error {
	baud, err := strconv.Atoi(f.BaudRate)
	if err != nil {
		return fmt.Errorf("invalid baud rate %q: %w", f.BaudRate, err)
	}
	settle, err := time.ParseDuration(f.SettleInterval)
	if err != nil {
		return fmt.Errorf("invalid settle interval %q: %w", f.SettleInterval, err)
	}

	updated := *cfg
	updated.Serial.Port = f.SerialPort
	if f.SerialPort == bridge.SerialPortNone {
		updated.Serial.Port = ""
	}
	updated.Serial.Baud = baud
	updated.Journal.Addr = f.JournalAddr
	updated.Tending.SettleInterval = settle

	err = updated.Validate()
	if err != nil {
		return err
	}

	*cfg = updated
	return nil
}

type ConfigWindow struct {
	app      fyne.App
	OnSubmit func()
}

func NewConfigWindow(app fyne.App) *ConfigWindow {
	return &ConfigWindow{
		app: app,
	}
}

// loadPreferences overrides the form with values saved by a previous submit
func (cw *ConfigWindow) loadPreferences(form *configForm) {
	prefs := cw.app.Preferences()
	form.SerialPort = prefs.StringWithFallback("serialPort", form.SerialPort)
	form.BaudRate = prefs.StringWithFallback("baudRate", form.BaudRate)
	form.JournalAddr = prefs.StringWithFallback("journalAddr", form.JournalAddr)
	form.SettleInterval = prefs.StringWithFallback("settleInterval", form.SettleInterval)
}

func (cw *ConfigWindow) savePreferences(form configForm) {
	prefs := cw.app.Preferences()
	prefs.SetString("serialPort", form.SerialPort)
	prefs.SetString("baudRate", form.BaudRate)
	prefs.SetString("journalAddr", form.JournalAddr)
	prefs.SetString("settleInterval", form.SettleInterval)
}

// Show opens the configuration window. cfg is updated before OnSubmit is called
func (cw *ConfigWindow) Show(cfg *config.Config) {
	window := cw.app.NewWindow("Auto Tend - Configuration")
	window.Resize(fyne.NewSize(400, 250))
	window.SetCloseIntercept(func() {
		// Treat window close as cancel
		window.Close()
		cw.app.Quit()
	})
	window.Show()

	form := newConfigForm(*cfg)
	cw.loadPreferences(&form)

	serialPorts, err := bridge.Ports()
	if err != nil && !errors.Is(err, bridge.ErrNoUSBSerial) {
		showError(cw.app, window, fmt.Errorf("error getting serial ports: %w", err))
		return
	}
	serialPorts = append(serialPorts, bridge.SerialPortNone)

	if form.SerialPort == "" {
		form.SerialPort = serialPorts[0]
	}

	serialEntry := widget.NewSelect(serialPorts, nil)
	serialEntry.Bind(binding.BindString(&form.SerialPort))

	baudRateEntry := widget.NewEntry()
	baudRateEntry.Bind(binding.BindString(&form.BaudRate))

	journalAddrEntry := widget.NewEntry()
	journalAddrEntry.SetPlaceHolder("disabled")
	journalAddrEntry.Bind(binding.BindString(&form.JournalAddr))

	settleEntry := widget.NewEntry()
	settleEntry.Bind(binding.BindString(&form.SettleInterval))

	submitButton := widget.NewButton("Submit", func() {
		err := form.apply(cfg)
		if err != nil {
			dialog.ShowError(err, window)
			return
		}
		cw.savePreferences(form)
		cw.OnSubmit()
		window.Close()
	})

	content := container.NewVBox(
		widget.NewCard("Configuration", "", container.NewVBox(
			container.NewGridWithColumns(2,
				widget.NewLabel("Serial Port:"),
				serialEntry,
			),
			container.NewGridWithColumns(2,
				widget.NewLabel("Baud Rate:"),
				baudRateEntry,
			),
			container.NewGridWithColumns(2,
				widget.NewLabel("Journal Address:"),
				journalAddrEntry,
			),
			container.NewGridWithColumns(2,
				widget.NewLabel("Settle Interval:"),
				settleEntry,
			),
		)),
		container.NewHBox(
			widget.NewButton("Cancel", func() {
				window.Close()
				cw.app.Quit()
			}),
			submitButton,
		),
	)

	window.SetContent(content)
}

func showError(app fyne.App, window fyne.Window, err error) {
	d := dialog.NewError(err, window)
	d.SetOnClosed(func() {
		app.Quit()
	})
	d.Show()
}
