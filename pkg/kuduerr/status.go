// Package kuduerr defines the closed set of error kinds the storage core
// returns, mirroring Kudu's C++ Status class.
package kuduerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed set of error categories a Status can carry.
type Kind uint8

const (
	OK Kind = iota
	NotFound
	AlreadyPresent
	InvalidArgument
	Corruption
	IOError
	NetworkError
	ServiceUnavailable
	IllegalState
	Aborted
	NotSupported
	TimedOut
	RuntimeError
	Incomplete
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "OK"
	case NotFound:
		return "NotFound"
	case AlreadyPresent:
		return "AlreadyPresent"
	case InvalidArgument:
		return "InvalidArgument"
	case Corruption:
		return "Corruption"
	case IOError:
		return "IOError"
	case NetworkError:
		return "NetworkError"
	case ServiceUnavailable:
		return "ServiceUnavailable"
	case IllegalState:
		return "IllegalState"
	case Aborted:
		return "Aborted"
	case NotSupported:
		return "NotSupported"
	case TimedOut:
		return "TimedOut"
	case RuntimeError:
		return "RuntimeError"
	case Incomplete:
		return "Incomplete"
	default:
		return "Unknown"
	}
}

// Status is the error type returned by every fallible operation in this
// module. A Status with Kind == OK is never constructed; callers use nil to
// mean success.
type Status struct {
	kind      Kind
	msg       string
	posixCode int // valid only when kind == IOError and posixCode != 0
	cause     error
}

func (s *Status) Error() string {
	if s.posixCode != 0 {
		return fmt.Sprintf("%s: %s (posix %d)", s.kind, s.msg, s.posixCode)
	}
	return fmt.Sprintf("%s: %s", s.kind, s.msg)
}

func (s *Status) Unwrap() error { return s.cause }

// Is reports whether err is a *Status of the given kind.
func Is(err error, kind Kind) bool {
	var st *Status
	if !errors.As(err, &st) {
		return false
	}
	return st.kind == kind
}

// KindOf extracts the Kind of err, or RuntimeError if err is not a *Status.
func KindOf(err error) Kind {
	var st *Status
	if !errors.As(err, &st) {
		return RuntimeError
	}
	return st.kind
}

// PosixCode returns the errno captured on an IOError Status, or 0.
func PosixCode(err error) int {
	var st *Status
	if !errors.As(err, &st) {
		return 0
	}
	return st.posixCode
}

func newf(kind Kind, format string, args ...interface{}) *Status {
	return &Status{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func NewNotFound(format string, args ...interface{}) *Status        { return newf(NotFound, format, args...) }
func NewAlreadyPresent(format string, args ...interface{}) *Status   { return newf(AlreadyPresent, format, args...) }
func NewInvalidArgument(format string, args ...interface{}) *Status { return newf(InvalidArgument, format, args...) }
func NewCorruption(format string, args ...interface{}) *Status      { return newf(Corruption, format, args...) }
func NewNetworkError(format string, args ...interface{}) *Status    { return newf(NetworkError, format, args...) }
func NewServiceUnavailable(format string, args ...interface{}) *Status {
	return newf(ServiceUnavailable, format, args...)
}
func NewIllegalState(format string, args ...interface{}) *Status { return newf(IllegalState, format, args...) }
func NewAborted(format string, args ...interface{}) *Status      { return newf(Aborted, format, args...) }
func NewNotSupported(format string, args ...interface{}) *Status { return newf(NotSupported, format, args...) }
func NewTimedOut(format string, args ...interface{}) *Status     { return newf(TimedOut, format, args...) }
func NewRuntimeError(format string, args ...interface{}) *Status { return newf(RuntimeError, format, args...) }
func NewIncomplete(format string, args ...interface{}) *Status   { return newf(Incomplete, format, args...) }

// NewIOError builds an IOError status, optionally carrying a POSIX errno
// (pass 0 when none applies).
func NewIOError(posixCode int, format string, args ...interface{}) *Status {
	s := newf(IOError, format, args...)
	s.posixCode = posixCode
	return s
}

// Wrap attaches cause to a new Status of kind, preserving cause's stack via
// github.com/pkg/errors so callers can still errors.Cause() through it.
func Wrap(cause error, kind Kind, format string, args ...interface{}) *Status {
	s := newf(kind, format, args...)
	s.cause = errors.WithStack(cause)
	return s
}

// IsFull reports whether an IOError should be treated as ENOSPC ("dir full")
// rather than a hard failure, per spec §7 propagation policy.
func IsFull(err error) bool {
	return PosixCode(err) == enospc
}
