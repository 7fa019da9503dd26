// Package httpapi wires the HTTP transport (Gin) to the handlers. It
// centralizes cross-cutting concerns such as tracing, correlation IDs,
// logging/redaction, panic recovery, metrics, compression, CORS, security
// headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "github.com/tbourn/alfie-backend/docs"
	"github.com/tbourn/alfie-backend/internal/config"
	"github.com/tbourn/alfie-backend/internal/http/handlers"
	"github.com/tbourn/alfie-backend/internal/http/middleware"
)

// maxBodyBytes caps request bodies. A full batch (10 videos of 10 clips with
// scripts) stays well below it.
const maxBodyBytes = 1 << 20

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, CORS
// and security headers, health, metrics and docs endpoints, and then mounts
// the versioned public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. AccessLog: one scrubbed line per request
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (never on the SSE stream or ZIP exports)
//  8. CORS and Security headers (before auth so preflights succeed)
//
// On the API group only:
//  9. Auth: bearer token → userID
//  10. Idempotency validator (after auth, before rate limiter to allow bypass on replay)
//  11. Rate limiter (per user/IP, bypass on replay)
func RegisterRoutes(r *gin.Engine, cfg config.Config, h *handlers.Handlers) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath // e.g. "/api/v1"

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		MaskHeaders: []string{"X-API-Key"},
		QuietRoutes: []string{"/health", "/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(maxBodyBytes))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Compression for JSON and CSV bodies
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{joinPath(apiBase, "/events")}),
		gzip.WithExcludedExtensions([]string{".zip", ".png", ".jpg", ".jpeg", ".mp4"}),
	))

	// 8) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "Last-Event-ID", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{middleware.HeaderRequestID, "Content-Length", "Content-Disposition", "Idempotency-Replayed", "ETag"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	sec := middleware.SecurityOptions{Policy: true, PrivateCache: true}
	if cfg.Security.EnableHSTS {
		sec.HSTSMaxAge = cfg.Security.HSTSMaxAge
	}
	r.Use(middleware.SecurityHeaders(sec))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Public API
	api := groupWithPrefix(r, apiBase)
	api.Use(middleware.Auth(middleware.AuthOptions{
		Required: cfg.Auth.Required,
		Secret:   cfg.Auth.JWTSecret,
	}))
	api.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		idempotencyLookup(h.Idempotency),
	))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(), spendCosts(apiBase))
	api.Use(rl.Handler())
	{
		// Planner
		api.POST("/plan", h.Plan)
		api.GET("/orders/:id", h.GetOrder)

		// Queue monitor and sweeps
		api.GET("/queue/jobs", h.ListJobs)
		api.GET("/queue/stats", h.QueueStats)
		api.POST("/queue/jobs/:id/retry", h.RetryJob)

		// Sweeps act on every tenant's entries.
		ops := api.Group("/queue", middleware.RequireOperator(middleware.OperatorOptions{Token: cfg.Auth.OperatorToken}))
		ops.POST("/trigger", h.TriggerWorker)
		ops.POST("/unlock-stuck", h.UnlockStuck)
		ops.POST("/fail-expired", h.FailExpired)

		// Batches
		api.POST("/batches", h.CreateBatch)
		api.GET("/batches", h.ListBatches)
		api.GET("/batches/:id", h.GetBatch)
		api.GET("/batches/:id/clips", h.ClipStatuses)
		api.GET("/batches/:id/export.csv", h.ExportCSV)
		api.GET("/batches/:id/export.zip", h.ExportZIP)
		api.GET("/batches/:id/texts", h.CopyTexts)
		api.POST("/clips/:id/retry", h.RetryClip)
		api.POST("/videos/:id/retry", h.RetryVideo)

		// Quota and memory
		api.GET("/quota/:brandId", h.QuotaBalance)
		api.GET("/memory/:scope", h.GetMemory)
		api.PUT("/memory/:scope", h.PutMemory)

		// Realtime
		api.GET("/events", h.Events)
	}
}

// spendCosts weights the routes that start provider work.
func spendCosts(base string) middleware.RouteCosts {
	return middleware.RouteCosts{
		"POST " + joinPath(base, "/plan"):                 3,
		"POST " + joinPath(base, "/batches"):              5,
		"POST " + joinPath(base, "/queue/trigger"):        2,
		"POST " + joinPath(base, "/queue/jobs/:id/retry"): 2,
		"POST " + joinPath(base, "/clips/:id/retry"):      2,
		"POST " + joinPath(base, "/videos/:id/retry"):     2,
	}
}

// idempotencyLookup adapts the handlers' store to the middleware lookup.
func idempotencyLookup(store handlers.IdempotencyStore) middleware.IdempotencyLookup {
	if store == nil {
		return nil
	}
	return func(ctx context.Context, userID, scope, key string, _ time.Time) (string, bool, error) {
		rid, found := store.Lookup(ctx, userID, scope, key)
		return rid, found, nil
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(prefix, p string) string {
	if prefix == "" || prefix == "/" {
		return p
	}
	return prefix + p
}
