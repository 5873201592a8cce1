// README: Recovery middleware; turns handler panics into 500s and logs them.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"navi/internal/logging"
)

func Recovery(log logging.Logger) gin.HandlerFunc {
	log = logging.OrNoop(log)
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error(c.Request.Context(), "handler panicked",
					logging.String("path", c.Request.URL.Path),
					logging.Any("panic", rec))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}
