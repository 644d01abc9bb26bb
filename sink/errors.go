package sink

import (
	stderrors "errors"
	"fmt"

	"github.com/infigaming-com/substreams-sink-pubsub/errors"
)

const (
	ErrCodeInvalidOutput = 30000 + iota
	ErrCodeUnknownTopic
	ErrCodePublish
	ErrCodeCursor
	ErrCodeLease
)

var (
	ErrInvalidOutput = errors.NewError(ErrCodeInvalidOutput, "invalid module output", nil)
	ErrUnknownTopic  = errors.NewError(ErrCodeUnknownTopic, "unknown topic", nil)
	ErrPublish       = errors.NewError(ErrCodePublish, "publish failed", nil)
	ErrCursor        = errors.NewError(ErrCodeCursor, "cursor", nil)
	ErrLease         = errors.NewError(ErrCodeLease, "writer lease", nil)
)

func newError(code int64, cause error, format string, args ...any) error {
	return errors.NewError(code, fmt.Sprintf(format, args...), cause)
}

func IsInvalidOutput(err error) bool { return stderrors.Is(err, ErrInvalidOutput) }

func IsUnknownTopic(err error) bool { return stderrors.Is(err, ErrUnknownTopic) }
