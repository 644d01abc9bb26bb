package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/errors"
)

type ContextKey string

const (
	CorrelationIDKey ContextKey = "CorrelationId"
	BlockKey         ContextKey = "Block"
)

const (
	ErrCodeValueNotFoundInContext = 10000 + iota
	ErrCodeInvalidValueInContext
)

func valueToCtx[T any](ctx context.Context, key ContextKey, value T) context.Context {
	return context.WithValue(ctx, key, value)
}

func valueFromCtx[T any](ctx context.Context, key ContextKey) (T, error) {
	raw := ctx.Value(key)
	if raw == nil {
		return *new(T), errors.Newf(ErrCodeValueNotFoundInContext, "%v not found in context", key)
	}
	value, ok := raw.(T)
	if !ok {
		return *new(T), errors.NewError(ErrCodeInvalidValueInContext, fmt.Sprintf("%v is not of type %T on context", key, *new(T)), nil)
	}
	return value, nil
}

func CorrelationIDToCtx(ctx context.Context, id string) context.Context {
	return valueToCtx(ctx, CorrelationIDKey, id)
}

func CorrelationIDFromCtx(ctx context.Context) (string, error) {
	return valueFromCtx[string](ctx, CorrelationIDKey)
}

// BlockToCtx tags ctx with the block being processed.
func BlockToCtx(ctx context.Context, number uint64) context.Context {
	return valueToCtx(ctx, BlockKey, number)
}

func BlockFromCtx(ctx context.Context) (uint64, error) {
	return valueFromCtx[uint64](ctx, BlockKey)
}

// FromContext returns lg with the correlation id and block found on ctx.
func FromContext(ctx context.Context, lg *zap.Logger) *zap.Logger {
	fields := make([]zap.Field, 0, 2)
	if id, err := CorrelationIDFromCtx(ctx); err == nil {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if block, err := BlockFromCtx(ctx); err == nil {
		fields = append(fields, zap.Uint64("block", block))
	}
	if len(fields) == 0 {
		return lg
	}
	return lg.With(fields...)
}
