package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/infigaming-com/substreams-sink-pubsub/logging"
	"github.com/infigaming-com/substreams-sink-pubsub/uid"
)

const CorrelationIdKey string = "X-CORRELATION-ID"

var correlationIDs uid.Generator = uid.NewUUIDV7()

// CorrelationIdMiddleware reuses an incoming X-CORRELATION-ID or mints one.
func CorrelationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationId := c.GetHeader(CorrelationIdKey)
		if correlationId == "" {
			if id, err := correlationIDs.New(); err == nil {
				correlationId = id
			}
		}
		c.Header(CorrelationIdKey, correlationId)
		ctx := logging.CorrelationIDToCtx(c.Request.Context(), correlationId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
