package jsdrv

import (
	"github.com/jsdrv/jsdrv-go/internal/jsdrverr"
)

// Error is the structured error returned by every public API call that
// can fail against the bus (spec.md §7): which operation and topic
// failed, and which return-code Code it maps to on the wire.
type Error = jsdrverr.Error

// Code is a return-code kind (spec.md §7): ParameterInvalid, NotFound,
// AlreadyExists, InUse, Busy, Unavailable, NotEnoughMemory,
// NotSupported, TooSmall, Timeout, Aborted, SyntaxError, IO, or
// Unspecified, each mapped to a negative integer on the wire.
type Code = jsdrverr.Code

// Error code constants, re-exported for callers that want to compare
// against a specific failure kind with errors.Is/IsCode.
const (
	CodeSuccess          = jsdrverr.CodeSuccess
	CodeParameterInvalid = jsdrverr.CodeParameterInvalid
	CodeNotFound         = jsdrverr.CodeNotFound
	CodeAlreadyExists    = jsdrverr.CodeAlreadyExists
	CodeInUse            = jsdrverr.CodeInUse
	CodeBusy             = jsdrverr.CodeBusy
	CodeUnavailable      = jsdrverr.CodeUnavailable
	CodeNotEnoughMemory  = jsdrverr.CodeNotEnoughMemory
	CodeNotSupported     = jsdrverr.CodeNotSupported
	CodeTooSmall         = jsdrverr.CodeTooSmall
	CodeTimeout          = jsdrverr.CodeTimeout
	CodeAborted          = jsdrverr.CodeAborted
	CodeSyntaxError      = jsdrverr.CodeSyntaxError
	CodeIO               = jsdrverr.CodeIO
	CodeUnspecified      = jsdrverr.CodeUnspecified
)

// NewError builds a structured Error for the given operation and topic.
func NewError(op, topic string, code Code) *Error {
	return jsdrverr.New(op, topic, code)
}

// WrapError attaches op/topic context to an existing error, preserving
// its Code if it is already a structured *Error.
func WrapError(op, topic string, err error) *Error {
	return jsdrverr.Wrap(op, topic, err)
}

// IsCode reports whether err is a *Error carrying the given Code.
func IsCode(err error, code Code) bool {
	return jsdrverr.IsCode(err, code)
}
