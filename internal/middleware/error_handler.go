package middleware

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"stockpos/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StatusClientClosed is logged when the client went away before a response.
const StatusClientClosed = 499

// ErrorHandler answers for errors attached with c.Error that no handler
// turned into a response. A request that ran out of time gets 503 so the
// terminal retries with the same sale id; anything else is an opaque 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		switch {
		case errors.Is(err, context.Canceled):
			c.AbortWithStatus(StatusClientClosed)
		case errors.Is(err, context.DeadlineExceeded):
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, apierror.New(apierror.CodeUnavailable, "request timed out, retry with the same id"))
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, apierror.New(apierror.CodeInternal, "internal server error"))
		}
	}
}

// Recovery converts panics into 500 responses and logs the stack.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("request_id", c.GetString(RequestIDKey)).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, apierror.New(apierror.CodeInternal, "internal server error"))
			}
		}()
		c.Next()
	}
}

// Logger writes one line per request. The level follows the status: 5xx at
// error, 4xx at warn. The operator id and the last attached error are
// included when present.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.WithLevel(levelFor(status)).
			Str("request_id", c.GetString(RequestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start))
		if claims := GetClaims(c); claims != nil {
			ev = ev.Str("user_id", claims.UserID).Str("role", claims.Role)
		}
		if last := c.Errors.Last(); last != nil {
			ev = ev.Err(last.Err)
		}
		ev.Msg("request")
	}
}

func levelFor(status int) zerolog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zerolog.ErrorLevel
	case status >= http.StatusBadRequest:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}
