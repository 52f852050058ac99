// Package jsdrverr defines the structured error type and return-code
// kinds shared by every layer of the driver core (spec.md §7). It is
// kept separate from the public root package so that internal packages
// (value, tmap, pubsub, bufsig, buffer, frontend) can return structured
// errors without importing the root package and creating an import
// cycle — the root package re-exports this type, mirroring how the
// teacher repo keeps its structured *Error in the root package but
// backs it with plain internal error values that get wrapped on the
// way out (see errors.go's WrapError).
package jsdrverr

import (
	"errors"
	"fmt"
)

// Code is a return-code kind (spec.md §7). Each maps to a negative
// integer return code on the wire via Code.ReturnCode().
type Code string

const (
	CodeSuccess          Code = "success"
	CodeParameterInvalid Code = "parameter invalid"
	CodeNotFound         Code = "not found"
	CodeAlreadyExists    Code = "already exists"
	CodeInUse            Code = "in use"
	CodeBusy             Code = "busy"
	CodeUnavailable      Code = "unavailable"
	CodeNotEnoughMemory  Code = "not enough memory"
	CodeNotSupported     Code = "not supported"
	CodeTooSmall         Code = "too small"
	CodeTimeout          Code = "timeout"
	CodeAborted          Code = "aborted"
	CodeSyntaxError      Code = "syntax error"
	CodeIO               Code = "I/O error"
	CodeUnspecified      Code = "unspecified"
)

// returnCodes maps each Code to its wire return-code integer, per
// spec.md §6/§7 ("negative integers encode specific kinds").
var returnCodes = map[Code]int32{
	CodeSuccess:          0,
	CodeUnspecified:      -1,
	CodeNotEnoughMemory:  -2,
	CodeParameterInvalid: -3,
	CodeBusy:             -4,
	CodeNotSupported:     -5,
	CodeIO:               -6,
	CodeSyntaxError:      -7,
	CodeTimeout:          -8,
	CodeAborted:          -9,
	CodeInUse:            -10,
	CodeUnavailable:      -11,
	CodeAlreadyExists:    -12,
	CodeNotFound:         -13,
	CodeTooSmall:         -14,
}

// ReturnCode returns the wire integer for a Code.
func (c Code) ReturnCode() int32 {
	if rc, ok := returnCodes[c]; ok {
		return rc
	}
	return returnCodes[CodeUnspecified]
}

// CodeFromReturnCode inverts ReturnCode; unknown codes map to Unspecified.
func CodeFromReturnCode(rc int32) Code {
	for code, v := range returnCodes {
		if v == rc {
			return code
		}
	}
	return CodeUnspecified
}

// Error is a structured error carrying the failing operation, the
// topic involved (if any), and the return-code kind.
type Error struct {
	Op    string
	Topic string
	Code  Code
	Inner error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Topic != "":
		return fmt.Sprintf("jsdrv: %s %s: %s", e.Op, e.Topic, e.Code)
	case e.Op != "":
		return fmt.Sprintf("jsdrv: %s: %s", e.Op, e.Code)
	default:
		return fmt.Sprintf("jsdrv: %s", e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

// New builds a structured Error for the given operation/topic.
func New(op, topic string, code Code) *Error {
	return &Error{Op: op, Topic: topic, Code: code}
}

// Wrap attaches op/topic context to an existing error, preserving its
// Code if it is already a *Error, otherwise classifying it Unspecified.
func Wrap(op, topic string, err error) *Error {
	if err == nil {
		return nil
	}
	var inner *Error
	if errors.As(err, &inner) {
		return &Error{Op: op, Topic: topic, Code: inner.Code, Inner: err}
	}
	return &Error{Op: op, Topic: topic, Code: CodeUnspecified, Inner: err}
}

// IsCode reports whether err is a *Error with the given Code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
