// Package middleware holds the Gin middleware shared by the API: request
// correlation, access logging, recovery, auth, idempotency, rate limiting,
// metrics and security headers.
package middleware

import (
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// HeaderRequestID carries the correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

const (
	ctxKeyRequestID = "requestID"
	ctxKeyLogger    = "logger"
)

// Inbound ids end up in logs and error bodies, so only plain tokens are kept.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestID reuses a well-formed X-Request-ID from the caller or mints a
// UUID, echoes it on the response and seeds the request-scoped logger with it
// (and the trace id when a span is active).
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderRequestID)
		if !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(ctxKeyRequestID, rid)
		c.Writer.Header().Set(HeaderRequestID, rid)

		lc := log.With().Str("request_id", rid)
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
			lc = lc.Str("trace_id", sc.TraceID().String())
		}
		l := lc.Logger()
		c.Set(ctxKeyLogger, &l)

		c.Next()
	}
}

// RequestIDFrom returns the id assigned by RequestID, falling back to the
// response header for handlers mounted without it.
func RequestIDFrom(c *gin.Context) string {
	if s := c.GetString(ctxKeyRequestID); s != "" {
		return s
	}
	return c.Writer.Header().Get(HeaderRequestID)
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// none was attached. Never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(ctxKeyLogger); ok {
		if lg, ok := v.(*zerolog.Logger); ok && lg != nil {
			return lg
		}
	}
	l := log.Logger
	return &l
}

func withLoggerField(c *gin.Context, key, val string) {
	l := LoggerFrom(c).With().Str(key, val).Logger()
	c.Set(ctxKeyLogger, &l)
}
