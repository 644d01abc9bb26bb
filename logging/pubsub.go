package logging

import (
	"context"

	"go.uber.org/zap"

	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
)

type pubsubLogger struct {
	lg *zap.SugaredLogger
}

// PubsubLogger adapts lg to the transport client's key/value logger.
func PubsubLogger(lg *zap.Logger) pubsub.Logger {
	return &pubsubLogger{lg: lg.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *pubsubLogger) with(ctx context.Context) *zap.SugaredLogger {
	return FromContext(ctx, l.lg.Desugar()).Sugar()
}

func (l *pubsubLogger) Debug(ctx context.Context, msg string, kv ...any) {
	l.with(ctx).Debugw(msg, kv...)
}

func (l *pubsubLogger) Info(ctx context.Context, msg string, kv ...any) {
	l.with(ctx).Infow(msg, kv...)
}

func (l *pubsubLogger) Warn(ctx context.Context, msg string, kv ...any) {
	l.with(ctx).Warnw(msg, kv...)
}

func (l *pubsubLogger) Error(ctx context.Context, msg string, kv ...any) {
	l.with(ctx).Errorw(msg, kv...)
}
