package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/storely/messaging-api/internal/handler"
	"github.com/storely/messaging-api/pkg/httputil"
)

// ErrorHandler logs errors attached to the gin context and writes a
// response for handlers that errored without responding.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			log.Error().
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("client_ip", c.ClientIP()).
				Msg("request error")
		}

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		c.JSON(httputil.StatusFor(lastErr.Err), handler.NewErrorResponse(lastErr.Error()))
	}
}
