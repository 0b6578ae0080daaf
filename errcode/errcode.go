package errcode

// Code is a stable error identifier shared by every HAL driver.
// It is a string newtype, comparable, allocation-free, and implements error.
// ISR-context code returns bare Code values only; the E wrapper allocates
// and is reserved for thread-context paths.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Lifecycle
	InvalidState Code = "invalid_state"

	// Arguments
	InvalidArgument Code = "invalid_argument"

	// Resource registry
	AlreadyBound Code = "already_bound"
	NotFound     Code = "not_found"

	// Bus transactions
	Timeout  Code = "timeout"
	BusError Code = "bus_error"

	// Allocation / capability
	ResourceExhausted Code = "resource_exhausted"
	Unsupported       Code = "unsupported"

	Error Code = "error" // generic fallback
)

// E carries context and a cause alongside a Code.
type E struct {
	C         Code
	Component string // diagnostic label of the owning driver
	Op        string
	Msg       string
	Err       error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Component != "" {
		s = e.Component + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap attaches component/op context to a code, keeping the cause.
func Wrap(c Code, component, op string, err error) *E {
	return &E{C: c, Component: component, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Is reports whether err carries the given code, directly or wrapped.
func Is(err error, c Code) bool { return Of(err) == c }
