package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout            = errors.New("timeout waiting for response")
	ErrNotConnected       = errors.New("not connected")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUnsupported        = errors.New("operation not supported by dialect")
)

// TransportError reports a broken link. It is fatal to the Connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// MalformedError reports a reply that does not match the expected grammar.
type MalformedError struct {
	Command string
	Raw     string
	Reason  string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed reply to %s: %s (%q)", e.Command, e.Reason, e.Raw)
}

// VendorRejectedError is a controller error code found in the dialect's table.
type VendorRejectedError struct {
	Code    int
	Message string
}

func (e *VendorRejectedError) Error() string {
	return fmt.Sprintf("rejected by mount (code %d): %s", e.Code, e.Message)
}

// UnknownVendorCodeError is a controller error code missing from the
// dialect's table. The raw reply is kept so the table can be extended.
type UnknownVendorCodeError struct {
	Code int
	Raw  string
}

func (e *UnknownVendorCodeError) Error() string {
	return fmt.Sprintf("unknown mount error code %d (%q)", e.Code, e.Raw)
}

// PreconditionError rejects an operation locally, before any I/O.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// Precondition returns a PreconditionError with the given reason.
func Precondition(format string, args ...any) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err must close the shared Connection.
func IsFatal(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
