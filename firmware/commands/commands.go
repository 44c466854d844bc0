package commands

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/calvinmclean/autotend"
)

// Pins is the hardware that the bridge firmware exposes over serial
type Pins interface {
	Configure(pin int, mode autotend.Mode) error
	Set(pin int, level autotend.Level) error
	Get(pin int) (autotend.Level, error)
	Pulse(pin, n int, delay time.Duration) (int, error)
}

type Command struct {
	Flag        byte
	Args        int
	Run         func(Pins, []string) (string, error)
	Description string
}

var errInvalidInput = errors.New("invalid input")

var (
	ModeCommand = &Command{
		Flag: autotend.CommandMode,
		Args: 2,
		Run: func(p Pins, args []string) (string, error) {
			pin, err := parsePin(args[0])
			if err != nil {
				return "", err
			}

			var mode autotend.Mode
			switch args[1] {
			case "I":
				mode = autotend.ModeInput
			case "O":
				mode = autotend.ModeOutput
			default:
				return "", errors.New("invalid mode: " + args[1])
			}

			return autotend.ResponseOK, p.Configure(pin, mode)
		},
		Description: "Set pin mode. Input: pin, 'I' or 'O'.",
	}
	WriteCommand = &Command{
		Flag: autotend.CommandWrite,
		Args: 2,
		Run: func(p Pins, args []string) (string, error) {
			pin, err := parsePin(args[0])
			if err != nil {
				return "", err
			}

			var level autotend.Level
			switch args[1] {
			case "0":
				level = autotend.Low
			case "1":
				level = autotend.High
			default:
				return "", errors.New("invalid level: " + args[1])
			}

			return autotend.ResponseOK, p.Set(pin, level)
		},
		Description: "Write an output pin. Input: pin, '0' or '1'.",
	}
	ReadCommand = &Command{
		Flag: autotend.CommandRead,
		Args: 1,
		Run: func(p Pins, args []string) (string, error) {
			pin, err := parsePin(args[0])
			if err != nil {
				return "", err
			}

			level, err := p.Get(pin)
			if err != nil {
				return "", err
			}
			if level {
				return "1", nil
			}
			return "0", nil
		},
		Description: "Read an input pin. Input: pin.",
	}
	PulseCommand = &Command{
		Flag: autotend.CommandPulse,
		Args: 3,
		Run: func(p Pins, args []string) (string, error) {
			pin, err := parsePin(args[0])
			if err != nil {
				return "", err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 {
				return "", errInvalidInput
			}
			delayUS, err := strconv.Atoi(args[2])
			if err != nil || delayUS < 0 {
				return "", errInvalidInput
			}

			// the issued count is still reported when the pulse train fails part way
			issued, err := p.Pulse(pin, n, time.Duration(delayUS)*time.Microsecond)
			if err != nil && issued == 0 {
				return "", err
			}
			return autotend.ResponseIssued + strconv.Itoa(issued), nil
		},
		Description: "Pulse an output pin. Input: pin, count, delay in microseconds.",
	}
	HelpCommand = &Command{
		Flag:        'H',
		Args:        0,
		Description: "Show all available commands and their descriptions.",
		Run: func(p Pins, args []string) (string, error) {
			var descriptions []string
			for _, cmd := range commands {
				descriptions = append(descriptions, string(cmd.Flag)+": "+cmd.Description)
			}
			return strings.Join(descriptions, " "), nil
		},
	}
)

var commands = []*Command{
	ModeCommand,
	WriteCommand,
	ReadCommand,
	PulseCommand,
}

func parsePin(s string) (int, error) {
	pin, err := strconv.Atoi(s)
	if err != nil || pin < 0 {
		return 0, errors.New("invalid pin: " + s)
	}
	return pin, nil
}

// Handle runs a single request line and returns the response line without a terminator
func Handle(p Pins, line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return autotend.ResponseErr + "empty command"
	}

	var cmd *Command
	for _, c := range append(commands, HelpCommand) {
		if c.Flag == line[0] {
			cmd = c
			break
		}
	}
	if cmd == nil {
		return autotend.ResponseErr + "unknown command: " + string(line[0])
	}

	args := strings.Fields(line[1:])
	if len(args) != cmd.Args {
		return autotend.ResponseErr + "expected " + strconv.Itoa(cmd.Args) + " arguments"
	}

	resp, err := cmd.Run(p, args)
	if err != nil {
		return autotend.ResponseErr + err.Error()
	}
	return resp
}

// Run handles request lines from rw until it is closed
func Run(p Pins, rw io.ReadWriter) error {
	scanner := bufio.NewScanner(rw)
	for scanner.Scan() {
		resp := Handle(p, scanner.Text())
		_, err := io.WriteString(rw, resp+string(rune(autotend.LineTerminator)))
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}
