package server

import (
	"net/http"
	"time"

	"github.com/fdbk/fdbk/metrics"
	"github.com/gin-gonic/gin"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/level"
	"github.com/mongodb/grip/message"
)

// requestLogger logs one line per request and records the request
// metrics. Server errors log at error level and client errors at
// warning level.
func requestLogger(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.ObserveRequest(c.Request.Method, route, status, duration)

		msg := message.Fields{
			"message":  "handled request",
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"route":    route,
			"status":   status,
			"size":     c.Writer.Size(),
			"remote":   c.ClientIP(),
			"duration": duration.Round(time.Microsecond).String(),
		}
		if len(c.Errors) > 0 {
			msg["errors"] = c.Errors.String()
		}

		switch {
		case status >= http.StatusInternalServerError:
			grip.Log(level.Error, msg)
		case status >= http.StatusBadRequest:
			grip.Log(level.Warning, msg)
		default:
			grip.Log(level.Debug, msg)
		}
	}
}
