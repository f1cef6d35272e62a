package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"authservice/internal/pkg/response"

	"github.com/gin-gonic/gin"
)

// RequestLogger writes one structured line per request. Query strings are
// left out because they may carry credentials.
func RequestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(c.Request.Context(), level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
			slog.String("request_id", requestID(c)),
		)
	}
}

// ErrorLogger logs errors attached to the gin context and recovers from panics.
func ErrorLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		defer func() {
			if recovered := recover(); recovered != nil {
				logRequestError(c, log, start, "panic", fmt.Sprintf("%v", recovered), debug.Stack())
				response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
				c.Abort()
				return
			}

			for _, err := range c.Errors {
				logRequestError(c, log, start, fmt.Sprintf("%v", err.Type), err.Error(), nil)
			}
		}()

		c.Next()
	}
}

func logRequestError(c *gin.Context, log *slog.Logger, start time.Time, errType, message string, stack []byte) {
	attrs := []slog.Attr{
		slog.String("type", errType),
		slog.Int("status", c.Writer.Status()),
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("user_id", c.GetString(ContextUserID)),
		slog.String("request_id", requestID(c)),
		slog.Duration("latency", time.Since(start)),
		slog.String("error", message),
	}
	if stack != nil {
		attrs = append(attrs, slog.String("stack", string(stack)))
	}
	log.LogAttrs(c.Request.Context(), slog.LevelError, "request_error", attrs...)
}

func requestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = c.GetHeader("X-Request-Id")
	}
	return requestID
}
