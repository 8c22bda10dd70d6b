// Unified error handling for the chromatography host.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error.
type ErrorCode string

const (
	// ErrFraming covers checksum mismatches, non-positive declared
	// lengths, and unknown receive states.
	ErrFraming ErrorCode = "FRAMING"

	// ErrTimeout means no valid frame arrived within the per-attempt or
	// overall budget.
	ErrTimeout ErrorCode = "TIMEOUT"

	// ErrProtocol covers responses shorter than the minimum required for
	// their command.
	ErrProtocol ErrorCode = "PROTOCOL"

	// ErrNameResolution means a declarative reagent/column name is absent
	// from its table.
	ErrNameResolution ErrorCode = "NAME_RESOLUTION"

	// ErrCapacity means an encoded program exceeds the device-reported
	// maximum length.
	ErrCapacity ErrorCode = "CAPACITY"

	// ErrConnection covers open/ping failures and closed sessions.
	ErrConnection ErrorCode = "CONNECTION"
)

// HostError is the unified error type for the host system.
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *HostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetContext adds additional context and returns the error for chaining.
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a HostError with the given code and message.
func New(code ErrorCode, format string, args ...interface{}) *HostError {
	return &HostError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a HostError wrapping an underlying cause.
func Wrap(code ErrorCode, err error, format string, args ...interface{}) *HostError {
	return &HostError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// Framing creates a FRAMING error.
func Framing(format string, args ...interface{}) *HostError {
	return New(ErrFraming, format, args...)
}

// Timeout creates a TIMEOUT error.
func Timeout(format string, args ...interface{}) *HostError {
	return New(ErrTimeout, format, args...)
}

// Protocol creates a PROTOCOL error.
func Protocol(format string, args ...interface{}) *HostError {
	return New(ErrProtocol, format, args...)
}

// NameResolution creates a NAME_RESOLUTION error.
func NameResolution(format string, args ...interface{}) *HostError {
	return New(ErrNameResolution, format, args...)
}

// Capacity creates a CAPACITY error.
func Capacity(format string, args ...interface{}) *HostError {
	return New(ErrCapacity, format, args...)
}

// Connection creates a CONNECTION error.
func Connection(format string, args ...interface{}) *HostError {
	return New(ErrConnection, format, args...)
}

// IsCode reports whether the first HostError in err's chain carries the
// given code.
func IsCode(err error, code ErrorCode) bool {
	var he *HostError
	if stderrors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// CodeOf returns the code of the first HostError in the chain, or the
// empty string when none is present.
func CodeOf(err error) ErrorCode {
	var he *HostError
	if stderrors.As(err, &he) {
		return he.Code
	}
	return ""
}
