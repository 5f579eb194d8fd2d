package alpaca

import (
	"errors"
	"fmt"

	"lx200/pkg/protocol"
)

// Alpaca error numbers.
const (
	codeNotImplemented   = 0x400
	codeInvalidValue     = 0x401
	codeNotConnected     = 0x407
	codeParked           = 0x408
	codeInvalidOperation = 0x40B
	codeDriverError      = 0x500
)

var (
	ErrNotConnected           = errors.New("device is not connected")
	ErrPropertyNotImplemented = errors.New("property or method not implemented")
	ErrInvalidValue           = errors.New("invalid value")
	ErrInvalidOperation       = errors.New("invalid operation")
	ErrParked                 = errors.New("mount is parked")
)

func invalidValue(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}

// errorCode maps driver and protocol errors onto Alpaca error numbers.
// Anything unrecognised is a driver error.
func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrNotConnected), errors.Is(err, protocol.ErrNotConnected):
		return codeNotConnected
	case errors.Is(err, ErrPropertyNotImplemented), errors.Is(err, protocol.ErrUnsupported):
		return codeNotImplemented
	case errors.Is(err, ErrInvalidValue):
		return codeInvalidValue
	case errors.Is(err, ErrParked):
		return codeParked
	case errors.Is(err, ErrInvalidOperation), errors.Is(err, protocol.ErrPreconditionFailed):
		return codeInvalidOperation
	}
	return codeDriverError
}
