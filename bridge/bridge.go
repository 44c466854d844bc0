package bridge

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calvinmclean/autotend"
	"github.com/calvinmclean/autotend/device"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

const (
	// SerialPortNone is shown in port selections to choose the simulated bus
	SerialPortNone = "None"

	readTimeout = time.Second
)

var ErrNoUSBSerial = errors.New("no USB serial ports found")

// RemoteError is an error reported by the bridge firmware
type RemoteError struct {
	Request string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bridge error for %q: %s", e.Request, e.Message)
}

// Bus is a device.Bus that forwards every pin operation to the bridge firmware over serial
type Bus struct {
	mtx    sync.Mutex
	port   io.ReadWriteCloser
	reader *bufio.Reader
	logger *zap.Logger
}

var (
	_ device.Bus    = &Bus{}
	_ device.Pulser = &Bus{}
)

// Open connects to the bridge firmware on a serial port
func Open(port string, baud int, logger *zap.Logger) (*Bus, error) {
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening serial port: %w", err)
	}

	err = p.SetReadTimeout(readTimeout)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("error setting read timeout: %w", err)
	}

	logger.Info("connected to bridge", zap.String("port", port), zap.Int("baud", baud))

	return New(p, logger), nil
}

// New uses an already open connection to the bridge firmware
func New(rwc io.ReadWriteCloser, logger *zap.Logger) *Bus {
	return &Bus{
		port:   rwc,
		reader: bufio.NewReader(rwc),
		logger: logger,
	}
}

func (b *Bus) Close() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return b.port.Close()
}

func (b *Bus) SetupPin(pin int, mode autotend.Mode) error {
	m := "I"
	if mode == autotend.ModeOutput {
		m = "O"
	}
	_, err := b.request(fmt.Sprintf("%c%d %s", autotend.CommandMode, pin, m))
	return err
}

func (b *Bus) WritePin(pin int, level autotend.Level) error {
	l := 0
	if level {
		l = 1
	}
	_, err := b.request(fmt.Sprintf("%c%d %d", autotend.CommandWrite, pin, l))
	return err
}

func (b *Bus) ReadPin(pin int) (autotend.Level, error) {
	resp, err := b.request(fmt.Sprintf("%c%d", autotend.CommandRead, pin))
	if err != nil {
		return autotend.Low, err
	}

	switch resp {
	case "0":
		return autotend.Low, nil
	case "1":
		return autotend.High, nil
	default:
		return autotend.Low, fmt.Errorf("unexpected read response: %q", resp)
	}
}

// Pulse asks the firmware to issue the whole pulse train so the timing does not depend on the serial link
func (b *Bus) Pulse(pin, n int, delay time.Duration) (int, error) {
	req := fmt.Sprintf("%c%d %d %d", autotend.CommandPulse, pin, n, delay.Microseconds())
	resp, err := b.request(req)
	if err != nil {
		return 0, err
	}

	issued, ok := strings.CutPrefix(resp, autotend.ResponseIssued)
	if !ok {
		return 0, fmt.Errorf("unexpected pulse response: %q", resp)
	}
	count, err := strconv.Atoi(issued)
	if err != nil {
		return 0, fmt.Errorf("unexpected pulse response: %q", resp)
	}
	return count, nil
}

func (b *Bus) request(req string) (string, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	_, err := io.WriteString(b.port, req+string(rune(autotend.LineTerminator)))
	if err != nil {
		return "", fmt.Errorf("error writing to bridge: %w", err)
	}

	line, err := b.reader.ReadString(autotend.LineTerminator)
	if err != nil {
		return "", fmt.Errorf("error reading from bridge: %w", err)
	}
	resp := strings.TrimSpace(line)

	b.logger.Debug("bridge request", zap.String("request", req), zap.String("response", resp))

	if msg, ok := strings.CutPrefix(resp, autotend.ResponseErr); ok {
		return "", &RemoteError{Request: req, Message: msg}
	}
	return resp, nil
}

// Ports lists the USB serial ports that could have bridge firmware attached
func Ports() ([]string, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("error listing serial ports: %w", err)
	}

	var ports []string
	for _, p := range details {
		if p.IsUSB {
			ports = append(ports, p.Name)
		}
	}
	if len(ports) == 0 {
		return nil, ErrNoUSBSerial
	}
	return ports, nil
}
