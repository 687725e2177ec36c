// Package errs gives the controller's error taxonomy first-class, typed
// status values rather than ad-hoc Go errors, mirroring the Error enum of
// the C implementation this controller replaces.
package errs

import "fmt"

// Code is a classification of an operation's outcome. Arithmetic and
// state-machine paths never panic; they report boundary hits and
// convergence through a Code, not through error.
type Code int

const (
	AllGood Code = iota
	Invalid
	OutOfRange
	Timeout
	Interruption
	Unexpected
	Fatal
)

func (c Code) String() string {
	switch c {
	case AllGood:
		return "all_good"
	case Invalid:
		return "invalid"
	case OutOfRange:
		return "out_of_range"
	case Timeout:
		return "timeout"
	case Interruption:
		return "interruption"
	case Unexpected:
		return "unexpected"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsOK reports whether c represents success.
func IsOK(c Code) bool { return c == AllGood }

// IsErr reports whether c represents any failure classification.
func IsErr(c Code) bool { return c != AllGood }

// Error wraps a Code as a Go error for operations that cross an I/O
// boundary (serial line, named pipe, hardware bus) where the standard
// error-returning convention applies.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// New builds an *Error from a Code and a message.
func New(code Code, msg string) error {
	if code == AllGood {
		return nil
	}
	return &Error{Code: code, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...any) error {
	return New(code, fmt.Sprintf(format, args...))
}

// CodeOf extracts the Code carried by err, or Unexpected if err is not one
// of ours.
func CodeOf(err error) Code {
	if err == nil {
		return AllGood
	}
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
		return e.Code
	}
	return Unexpected
}
