package geiger

import (
	"errors"
	"fmt"
)

// Error kinds reported by the acquisition pipeline. Match with errors.Is.
var (
	// ErrConnection means the detector could not be opened. Fatal to the run.
	ErrConnection = errors.New("geiger: connection failed")
	// ErrIO means a read failed mid-stream. Fatal to the run.
	ErrIO = errors.New("geiger: read failed")
	// ErrParse means a line was not a valid count rate. Recoverable unless
	// the controller runs with AbortOnMalformed.
	ErrParse = errors.New("geiger: malformed reading")
	// ErrInvalidTransition means a command was issued in a state that does
	// not accept it. The state is left unchanged.
	ErrInvalidTransition = errors.New("geiger: invalid state transition")
	// ErrOutOfOrder means a sample was recorded with an elapsed time earlier
	// than the previous one.
	ErrOutOfOrder = errors.New("geiger: sample out of order")
	// ErrCalibration means a Calibration factor is not positive and finite.
	ErrCalibration = errors.New("geiger: invalid calibration")
)

// Parse failure causes, wrapped by ParseError.
var (
	errEmpty     = errors.New("empty line")
	errNotUTF8   = errors.New("not valid UTF-8")
	errNotNumber = errors.New("not a number")
	errNotFinite = errors.New("not a finite number")
	errNegative  = errors.New("negative count rate")
)

// ParseError describes a line the Reading Parser rejected.
type ParseError struct {
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("geiger: malformed reading %q: %v", e.Token, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is reports ErrParse so callers need not know the concrete type.
func (e *ParseError) Is(target error) bool { return target == ErrParse }

// TransitionError describes a rejected controller command.
type TransitionError struct {
	Op   string
	From RunState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("geiger: cannot %s while %s", e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
