package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// SecurityOptions configures SecurityHeaders.
type SecurityOptions struct {
	// HSTSMaxAge > 0 sends Strict-Transport-Security on HTTPS requests
	// (direct TLS or X-Forwarded-Proto: https). Plain HTTP never gets it.
	HSTSMaxAge time.Duration
	// Policy adds Permissions-Policy and X-Permitted-Cross-Domain-Policies.
	Policy bool
	// PrivateCache defaults responses to "private, no-cache". Handlers that
	// set their own Cache-Control (the SSE stream) override it.
	PrivateCache bool
}

// SecurityHeaders sets hardening headers before the handler runs. No CSP:
// the API serves JSON, CSV and ZIP, and the Swagger UI needs inline assets.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	static := [][2]string{
		{"X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", "DENY"},
		{"Referrer-Policy", "no-referrer"},
	}
	if opt.Policy {
		static = append(static,
			[2]string{"Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=(), usb=()"},
			[2]string{"X-Permitted-Cross-Domain-Policies", "none"},
		)
	}
	if opt.PrivateCache {
		static = append(static, [2]string{"Cache-Control", "private, no-cache"})
	}
	var hsts string
	if secs := int64(opt.HSTSMaxAge / time.Second); secs > 0 {
		hsts = "max-age=" + strconv.FormatInt(secs, 10) + "; includeSubDomains"
	}

	return func(c *gin.Context) {
		h := c.Writer.Header()
		for _, kv := range static {
			h.Set(kv[0], kv[1])
		}
		if hsts != "" && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		c.Next()
	}
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}
