// README: Request logging middleware; tags every request with a request id.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"navi/internal/logging"
)

const RequestIDHeader = "X-Request-ID"

func Logging(log logging.Logger) gin.HandlerFunc {
	log = logging.OrNoop(log)
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if id := c.GetHeader(RequestIDHeader); id != "" {
			ctx = logging.WithRequestID(ctx, id)
		}
		ctx, id := logging.EnsureRequestID(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		log.Info(ctx, "http request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Any("duration_ms", time.Since(start).Milliseconds()))
	}
}
