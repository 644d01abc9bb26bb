package middleware

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/infigaming-com/substreams-sink-pubsub/logging"
)

const RequestLogMessage = "http request"

type requestLog struct {
	skip      []string
	bodyLimit int
}

type RequestLogOption func(*requestLog)

// SkipPaths leaves probe endpoints out of the request log.
func SkipPaths(paths ...string) RequestLogOption {
	return func(r *requestLog) {
		r.skip = append(r.skip, paths...)
	}
}

// WithBodyLimit caps how many response bytes are logged; 0 logs none.
func WithBodyLimit(n int) RequestLogOption {
	return func(r *requestLog) {
		r.bodyLimit = max(n, 0)
	}
}

// RequestLog logs every request once it is served: client errors at info,
// server errors at error, the rest at debug.
func RequestLog(lg *zap.Logger, opts ...RequestLogOption) gin.HandlerFunc {
	cfg := requestLog{bodyLimit: 1024}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		if lo.Contains(cfg.skip, c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		tee := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = tee
		c.Next()

		status := c.Writer.Status()
		level := zapcore.DebugLevel
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zapcore.InfoLevel
		}
		body := tee.body.Bytes()
		body = body[:min(len(body), cfg.bodyLimit)]

		logging.FromContext(c.Request.Context(), lg).Log(level, RequestLogMessage,
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", c.FullPath()),
			zap.Int("status", status),
			zap.ByteString("body", body),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
