package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/boneagent/internal/logging"
)

// DisableLogMiddleware marks the request so RequestLogger skips it.
func DisableLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("disable_log", true)
		c.Next()
	}
}

// RequestLogger logs every request that was not marked with DisableLogMiddleware.
func RequestLogger(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if noLog, exists := c.Get("disable_log"); exists && noLog == true {
			return
		}
		entry := log.WithField("status", c.Writer.Status()).
			WithField("latency", time.Since(start)).
			WithField("client", ClientAddr(c)).
			WithField("method", c.Request.Method).
			WithField("path", c.Request.URL.Path)
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Debug("request")
	}
}
