package voip

import (
	"errors"
	"fmt"
)

// Code classifies a command failure.
type Code string

const (
	CodeNoActiveCall   Code = "NoActiveCall"
	CodeNoAccount      Code = "NoAccount"
	CodeInvalidAddress Code = "InvalidAddress"
	CodeNoDomain       Code = "NoDomain"
	CodeDeviceNotFound Code = "DeviceNotFound"
	CodeEngineRejected Code = "EngineRejected"
	CodeConflict       Code = "Conflict"
)

// Error is a structured command failure. Two Errors match with errors.Is
// when their codes are equal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNoActiveCall   = &Error{Code: CodeNoActiveCall, Message: "no active call"}
	ErrNoAccount      = &Error{Code: CodeNoAccount, Message: "no registered account"}
	ErrInvalidAddress = &Error{Code: CodeInvalidAddress, Message: "invalid address"}
	ErrNoDomain       = &Error{Code: CodeNoDomain, Message: "no registered domain"}
	ErrDeviceNotFound = &Error{Code: CodeDeviceNotFound, Message: "audio device not found"}
	ErrEngineRejected = &Error{Code: CodeEngineRejected, Message: "engine rejected the request"}
	ErrConflict       = &Error{Code: CodeConflict, Message: "a call is already active"}
)

// ErrServiceStopped is returned by commands submitted after the worker exits.
var ErrServiceStopped = errors.New("voip: service stopped")

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// engineRejected wraps an engine failure, keeping the engine's message.
func engineRejected(err error) *Error {
	return &Error{Code: CodeEngineRejected, Message: err.Error(), Err: err}
}

// CodeOf returns the code of err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
