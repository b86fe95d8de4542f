package hal

import (
	"errors"
	"fmt"

	"github.com/remiblancher/sehal/internal/der"
	"github.com/remiblancher/sehal/internal/mpi"
	"github.com/remiblancher/sehal/pkg/firmware"
)

// Sentinel errors for HAL operations. Every error returned by a Device
// matches exactly one of them under errors.Is.
var (
	// ErrFail indicates the firmware reported a nonzero status. It is not retried.
	ErrFail = errors.New("operation failed")

	// ErrNotSupported indicates an algorithm, key type or curve the element does not map.
	ErrNotSupported = errors.New("not supported")

	// ErrInvalidArgs indicates a nil or undersized buffer, an out-of-range
	// slot, or malformed DER input.
	ErrInvalidArgs = errors.New("invalid arguments")

	// ErrAllocFailed indicates an internal allocation could not be satisfied.
	ErrAllocFailed = errors.New("allocation failed")

	// ErrNotEnoughMemory indicates a serialization target smaller than the value.
	ErrNotEnoughMemory = errors.New("not enough memory")

	// ErrHardwareTimeout indicates the element stayed busy past the configured timeout.
	ErrHardwareTimeout = errors.New("hardware timeout")

	// ErrCanceled indicates the caller's context ended while waiting for the
	// element. Code reports it as CodeFail.
	ErrCanceled = errors.New("operation canceled")
)

// Error is a HAL operation error with structured context.
// It supports errors.Is() and errors.As().
type Error struct {
	Op     string          // Operation: "ecdsa_sign_md", "get_certificate", ...
	Status firmware.Status // Raw firmware status, when the firmware failed
	Err    error           // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != firmware.StatusOK {
		return fmt.Sprintf("hal %s: %v (firmware: %s)", e.Op, e.Err, e.Status)
	}
	return fmt.Sprintf("hal %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Err }

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func invalidArgs(op, format string, args ...any) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", ErrInvalidArgs, fmt.Sprintf(format, args...))}
}

func notSupported(op, format string, args ...any) *Error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %s", ErrNotSupported, fmt.Sprintf(format, args...))}
}

// Result codes, in table order.
const (
	CodeSuccess = iota
	CodeFail
	CodeNotSupported
	CodeInvalidArgs
	CodeAllocFailed
	CodeNotEnoughMemory
	CodeHardwareTimeout
)

// Code maps err onto the integer result taxonomy. Unknown errors map to CodeFail.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrNotSupported):
		return CodeNotSupported
	case errors.Is(err, ErrInvalidArgs):
		return CodeInvalidArgs
	case errors.Is(err, ErrAllocFailed):
		return CodeAllocFailed
	case errors.Is(err, ErrNotEnoughMemory):
		return CodeNotEnoughMemory
	case errors.Is(err, ErrHardwareTimeout):
		return CodeHardwareTimeout
	case errors.Is(err, ErrCanceled):
		return CodeFail
	default:
		return CodeFail
	}
}

// translate maps codec and MPI errors onto the HAL taxonomy, keeping the
// original error in the chain.
func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var he *Error
	if errors.As(err, &he) {
		return err
	}

	var kind error
	switch {
	case errors.Is(err, mpi.ErrAllocFailed):
		kind = ErrAllocFailed
	case errors.Is(err, mpi.ErrBufferTooSmall), errors.Is(err, der.ErrBufferTooSmall):
		kind = ErrNotEnoughMemory
	case errors.Is(err, der.ErrOutOfData), errors.Is(err, der.ErrInvalidLength),
		errors.Is(err, der.ErrUnexpectedTag), errors.Is(err, der.ErrLengthMismatch):
		kind = ErrInvalidArgs
	case errors.Is(err, ErrFail), errors.Is(err, ErrNotSupported), errors.Is(err, ErrInvalidArgs),
		errors.Is(err, ErrAllocFailed), errors.Is(err, ErrNotEnoughMemory), errors.Is(err, ErrHardwareTimeout),
		errors.Is(err, ErrCanceled):
		return newError(op, err)
	default:
		kind = ErrFail
	}
	return newError(op, fmt.Errorf("%w: %w", kind, err))
}
