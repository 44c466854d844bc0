package autotend

// Serial bridge wire protocol. Each request is a single line terminated by '\n' and
// gets exactly one response line.
//
//	M<pin> <I|O>            set pin mode         -> ok
//	W<pin> <0|1>            write output level   -> ok
//	R<pin>                  read input level     -> 0 | 1
//	P<pin> <n> <delay_us>   pulse train          -> n=<issued>
//
// Failures respond with "err <message>".
const (
	CommandMode  = 'M'
	CommandWrite = 'W'
	CommandRead  = 'R'
	CommandPulse = 'P'

	ResponseOK     = "ok"
	ResponseErr    = "err "
	ResponseIssued = "n="

	LineTerminator = '\n'

	// VirtualPinBase is the first pin number the firmware maps to a coil-driven stepper
	// instead of a physical GPIO
	VirtualPinBase = 100
)
