package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger logs one line per request, at warn for client errors and
// error for server errors. Paths in ignore are not logged. The logged path is
// the matched route pattern, so tokens in the URL never reach the log.
func RequestLogger(logger *zap.Logger, ignore ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(ignore))
	for _, path := range ignore {
		skip[path] = struct{}{}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if _, ok := skip[path]; ok {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		level := zapcore.InfoLevel
		switch {
		case status >= http.StatusInternalServerError:
			level = zapcore.ErrorLevel
		case status >= http.StatusBadRequest:
			level = zapcore.WarnLevel
		}

		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		if ce := logger.Check(level, "http request"); ce != nil {
			ce.Write(
				zap.Int("status", status),
				zap.Int64("latency_ms", time.Since(start).Milliseconds()),
				zap.String("client_ip", c.ClientIP()),
				zap.String("method", c.Request.Method),
				zap.String("path", route),
				zap.Int("data_length", size),
				zap.String("user_agent", c.Request.UserAgent()),
			)
		}
	}
}
