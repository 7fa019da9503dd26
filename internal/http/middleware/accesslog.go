package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const maxLoggedQuery = 2048

// AccessLogOptions configures AccessLog.
type AccessLogOptions struct {
	// MaskHeaders are blanked in addition to Authorization and cookies.
	MaskHeaders []string
	// QuietRoutes log successful requests at debug level (probes, scrapes).
	QuietRoutes []string
}

// AccessLog writes one structured line per request once the handler chain
// returns. Bodies are never logged. Query strings, paths and header values
// pass through the scrubber. The line is written with the request-scoped
// logger, so fields added downstream (user_id) are included.
func AccessLog(opts AccessLogOptions) gin.HandlerFunc {
	s := newScrubber(opts.MaskHeaders)
	quiet := make(map[string]bool, len(opts.QuietRoutes))
	for _, r := range opts.QuietRoutes {
		quiet[r] = true
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		status := c.Writer.Status()
		lg := LoggerFrom(c)

		var ev *zerolog.Event
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = lg.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= 400:
			ev = lg.Warn()
		case quiet[route]:
			ev = lg.Debug()
		default:
			ev = lg.Info()
		}
		if _, ok := c.Get(ctxKeyRequestID); !ok {
			ev = ev.Str("request_id", RequestIDFrom(c))
		}

		msg := "http_request"
		if isEventStream(c) {
			msg = "http_stream_closed"
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Str("path", s.text(c.Request.URL.Path)).
			Str("query", clip(s.text(c.Request.URL.RawQuery), maxLoggedQuery)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("remote_ip", c.ClientIP()).
			Interface("headers", s.headers(c.Request.Header)).
			Msg(msg)
	}
}
