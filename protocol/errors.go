package protocol

import (
	"errors"
	"fmt"

	"resinctl/standalone"
)

var (
	// ErrUnknownCommand is returned for keywords outside the command set
	ErrUnknownCommand = errors.New("unknown command")

	// ErrUnknownAxis is returned for axis fields naming no configured axis
	ErrUnknownAxis = standalone.ErrUnknownAxis
)

// ProtocolError reports a malformed command line (wrong arity, bad number)
type ProtocolError struct {
	Keyword string
	Reason  string
}

func (e *ProtocolError) Error() string {
	if e.Keyword == "" {
		return e.Reason
	}
	return e.Keyword + ": " + e.Reason
}

// ProcessingError reports a well-formed command that failed while running
type ProcessingError struct {
	Keyword string
	Err     error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Keyword, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// ErrorResponse maps an error to its response line
func ErrorResponse(err error) string {
	switch {
	case errors.Is(err, ErrUnknownCommand):
		return RespUnknownCommand
	case errors.Is(err, ErrUnknownAxis):
		return RespInvalidAxis
	default:
		return ProcessingFailedPrefix + err.Error()
	}
}
