package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := NewError(42, "bad thing", nil)
	wrapped := fmt.Errorf("outer: %w", NewError(42, "bad thing happened again", stderrors.New("root")))

	assert.True(t, stderrors.Is(wrapped, sentinel))
	assert.False(t, stderrors.Is(wrapped, NewError(43, "other", nil)))
	assert.Equal(t, int64(42), CodeOf(wrapped))
	assert.Equal(t, int64(0), CodeOf(stderrors.New("plain")))
}

func TestErrorMessageIncludesCause(t *testing.T) {
	err := NewError(1, "encode", stderrors.New("invalid utf-8"))
	assert.Equal(t, "encode: invalid utf-8", err.Error())
	assert.Equal(t, "encode", err.GetMessage())
	assert.EqualError(t, err.Unwrap(), "invalid utf-8")
}

func TestWithDetailsDoesNotMutateReceiver(t *testing.T) {
	base := Newf(7, "record %d", 3)
	detailed := base.WithDetails(map[string]int{"index": 3})

	assert.Nil(t, base.GetDetails())
	assert.Equal(t, map[string]int{"index": 3}, detailed.GetDetails())
	assert.Equal(t, "record 3", detailed.Error())
}
