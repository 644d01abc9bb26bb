package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is a coded error. Packages reserve their own code range and compare
// errors by code, so a wrapped *Error still matches its sentinel with errors.Is.
type Error struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
	Details any    `json:"details,omitempty"`
}

func NewError(code int64, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Newf builds an error without a cause.
func Newf(code int64, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) WithDetails(details any) *Error {
	cloned := *e
	cloned.Details = details
	return &cloned
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) GetCode() int64 {
	return e.Code
}

func (e *Error) GetMessage() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) GetDetails() any {
	return e.Details
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	var other *Error
	if !stderrors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) int64 {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return 0
}
