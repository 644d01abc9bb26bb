package publish

import (
	stderrors "errors"
	"fmt"

	"github.com/infigaming-com/substreams-sink-pubsub/errors"
)

const (
	ErrCodeEncodingFailure = 20000 + iota
	ErrCodeInvalidMessage
	ErrCodeInvalidOperation
)

// Sentinels for errors.Is. A data problem (bad record) surfaces as
// EncodingFailure or InvalidMessage; a wiring problem (no topic) as
// InvalidOperation.
var (
	ErrEncodingFailure  = errors.NewError(ErrCodeEncodingFailure, "encoding failure", nil)
	ErrInvalidMessage   = errors.NewError(ErrCodeInvalidMessage, "invalid message", nil)
	ErrInvalidOperation = errors.NewError(ErrCodeInvalidOperation, "invalid publish operation", nil)
)

func EncodingFailure(cause error, format string, args ...any) error {
	return errors.NewError(ErrCodeEncodingFailure, "encoding failure: "+fmt.Sprintf(format, args...), cause)
}

func InvalidMessage(cause error, format string, args ...any) error {
	return errors.NewError(ErrCodeInvalidMessage, "invalid message: "+fmt.Sprintf(format, args...), cause)
}

func InvalidOperation(cause error, format string, args ...any) error {
	return errors.NewError(ErrCodeInvalidOperation, "invalid publish operation: "+fmt.Sprintf(format, args...), cause)
}

func IsEncodingFailure(err error) bool {
	return stderrors.Is(err, ErrEncodingFailure)
}

func IsInvalidMessage(err error) bool {
	return stderrors.Is(err, ErrInvalidMessage)
}

func IsInvalidOperation(err error) bool {
	return stderrors.Is(err, ErrInvalidOperation)
}
