// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the API
// server, the job worker, persistence, provider collaborators, asset storage,
// quota plan defaults, and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "alfie-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the SQL driver and its connection target.
type DBConfig struct {
	Driver string // sqlite|postgres
	Path   string // SQLite file path (sqlite driver)
	URL    string // DSN (postgres driver)
}

// AuthConfig controls bearer token validation.
type AuthConfig struct {
	Required      bool   // reject requests without a valid token
	JWTSecret     string // HS256 signing secret
	OperatorToken string // X-Operator-Token secret for queue maintenance routes
}

// ProviderConfig points at the external selector and render endpoints.
type ProviderConfig struct {
	SelectorURL   string        // PROVIDER_SELECTOR_URL
	RenderBaseURL string        // RENDER_BASE_URL ({base}/image, /video, /copy)
	Timeout       time.Duration // per-call HTTP timeout
	APIKey        string        // sent as X-API-Key when set
}

// AssetsConfig configures the S3-compatible object store for uploads.
type AssetsConfig struct {
	Endpoint      string // empty disables the store
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string // prefix used to build public URLs
	ThumbWidth    int    // px
}

// RedisConfig configures the realtime fan-out bus. Empty Addr keeps events in-process.
type RedisConfig struct {
	Addr    string
	Channel string
}

// WorkerConfig holds queue worker and sweep thresholds.
type WorkerConfig struct {
	PollInterval  time.Duration // how often the worker drains due entries
	BatchSize     int           // entries claimed per trigger
	StuckMinutes  int           // running longer than this is unlocked
	MaxAgeHours   int           // unresolved longer than this is failed
	SweepInterval time.Duration // cadence of unlock/expire sweeps
	MaxAttempts   int           // default max_attempts for new entries
	Embedded      bool          // run the worker loop inside the api process
}

// QuotaConfig holds the plan defaults applied when a brand ledger is first created.
type QuotaConfig struct {
	Woofs  int
	Images int
	Videos int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s (SSE routes clear the deadline)
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Persistence
	DB DBConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig
	Auth     AuthConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Collaborators
	Providers ProviderConfig
	Assets    AssetsConfig
	Redis     RedisConfig

	// Pipeline
	Worker WorkerConfig
	Quota  QuotaConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load for main packages: any problem is fatal.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the environment. Unset or empty variables take their defaults;
// malformed values are errors rather than silent defaults. Every problem is
// reported at once, joined into one error.
func Load() (Config, error) {
	var e env
	cfg := Config{
		Port:              e.str("PORT", "8080"),
		ReadTimeout:       e.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: e.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      e.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       e.dur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    e.integer("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(e.str("GIN_MODE", "release")),

		LogLevel:       strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogPretty:      e.flag("LOG_PRETTY", false),
		SwaggerEnabled: e.flag("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(e.str("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(e.str("DB_DRIVER", "sqlite")),
			Path:   e.str("DB_PATH", "alfie.db"),
			URL:    e.str("DATABASE_URL", ""),
		},

		RateRPS:   e.number("RATE_RPS", 5.0),
		RateBurst: e.integer("RATE_BURST", 10),

		CORS: CORSConfig{AllowedOrigins: splitCSV(e.str("CORS_ALLOWED_ORIGINS", ""))},
		Security: SecurityConfig{
			EnableHSTS: e.flag("ENABLE_HSTS", false),
			HSTSMaxAge: e.dur("HSTS_MAX_AGE", 180*24*time.Hour),
		},
		Auth: AuthConfig{
			Required:      e.flag("AUTH_REQUIRED", false),
			JWTSecret:     e.str("JWT_SECRET", ""),
			OperatorToken: e.str("OPERATOR_TOKEN", ""),
		},
		IdempotencyTTL: e.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		Providers: ProviderConfig{
			SelectorURL:   e.str("PROVIDER_SELECTOR_URL", "http://localhost:9000/select"),
			RenderBaseURL: strings.TrimRight(e.str("RENDER_BASE_URL", "http://localhost:9000/render"), "/"),
			Timeout:       e.dur("PROVIDER_TIMEOUT", 120*time.Second),
			APIKey:        e.str("PROVIDER_API_KEY", ""),
		},
		Assets: AssetsConfig{
			Endpoint:      e.str("ASSETS_ENDPOINT", ""),
			AccessKey:     e.str("ASSETS_ACCESS_KEY", ""),
			SecretKey:     e.str("ASSETS_SECRET_KEY", ""),
			Bucket:        e.str("ASSETS_BUCKET", "alfie-assets"),
			UseSSL:        e.flag("ASSETS_USE_SSL", false),
			PublicBaseURL: strings.TrimRight(e.str("ASSETS_PUBLIC_BASE_URL", ""), "/"),
			ThumbWidth:    e.integer("THUMB_WIDTH", 320),
		},
		Redis: RedisConfig{
			Addr:    e.str("REDIS_ADDR", ""),
			Channel: e.str("REDIS_CHANNEL", "alfie-events"),
		},

		Worker: WorkerConfig{
			PollInterval:  e.dur("WORKER_POLL_INTERVAL", 5*time.Second),
			BatchSize:     e.integer("WORKER_BATCH_SIZE", 5),
			StuckMinutes:  e.integer("WORKER_STUCK_MINUTES", 10),
			MaxAgeHours:   e.integer("WORKER_MAX_AGE_HOURS", 24),
			SweepInterval: e.dur("WORKER_SWEEP_INTERVAL", time.Minute),
			MaxAttempts:   e.integer("JOB_MAX_ATTEMPTS", 3),
			Embedded:      e.flag("EMBEDDED_WORKER", false),
		},
		Quota: QuotaConfig{
			Woofs:  e.integer("QUOTA_DEFAULT_WOOFS", 100),
			Images: e.integer("QUOTA_DEFAULT_IMAGES", 50),
			Videos: e.integer("QUOTA_DEFAULT_VIDEOS", 10),
		},

		OTEL: OTELConfig{
			Enabled:     e.flag("OTEL_ENABLED", false),
			Endpoint:    e.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    e.flag("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: e.str("OTEL_SERVICE_NAME", "alfie-backend"),
			SampleRatio: e.number("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
	cfg.normalize()
	return cfg, errors.Join(append(e.errs, cfg.validate()...)...)
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	switch c.DB.Driver {
	case "postgresql", "pg":
		c.DB.Driver = "postgres"
	case "sqlite3":
		c.DB.Driver = "sqlite"
	}
}

func (c Config) validate() []error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		check(false, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	switch c.DB.Driver {
	case "sqlite":
		check(strings.TrimSpace(c.DB.Path) != "", "DB_PATH must not be empty")
	case "postgres":
		check(strings.TrimSpace(c.DB.URL) != "", "DATABASE_URL must be set when DB_DRIVER=postgres")
	default:
		check(false, "DB_DRIVER must be one of: sqlite, postgres")
	}

	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(!c.Auth.Required || strings.TrimSpace(c.Auth.JWTSecret) != "", "JWT_SECRET must be set when AUTH_REQUIRED=true")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")

	check(c.Providers.Timeout > 0, "PROVIDER_TIMEOUT must be > 0")
	check(c.Assets.Endpoint == "" || strings.TrimSpace(c.Assets.Bucket) != "", "ASSETS_BUCKET must not be empty")
	check(c.Assets.ThumbWidth >= 16, "THUMB_WIDTH must be >= 16")

	check(c.Worker.PollInterval > 0 && c.Worker.SweepInterval > 0, "worker intervals must be positive durations")
	check(c.Worker.BatchSize >= 1, "WORKER_BATCH_SIZE must be >= 1")
	check(c.Worker.StuckMinutes >= 1, "WORKER_STUCK_MINUTES must be >= 1")
	check(c.Worker.MaxAgeHours >= 1, "WORKER_MAX_AGE_HOURS must be >= 1")
	check(c.Worker.MaxAttempts >= 1, "JOB_MAX_ATTEMPTS must be >= 1")
	check(c.Quota.Woofs >= 0 && c.Quota.Images >= 0 && c.Quota.Videos >= 0, "quota defaults must be >= 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	return errs
}

// Warnings lists settings that are valid but unsafe outside local
// development.
func (c Config) Warnings() []string {
	var out []string
	if !c.Auth.Required {
		out = append(out, "AUTH_REQUIRED=false: callers without a token are identified by the unverified X-User-ID header; development only")
	}
	if c.Auth.OperatorToken == "" && c.Auth.JWTSecret == "" {
		out = append(out, "no OPERATOR_TOKEN or JWT_SECRET: queue maintenance routes are closed")
	}
	return out
}

// env reads typed variables and remembers the ones it could not parse.
type env struct {
	errs []error
}

func (e *env) lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func (e *env) bad(k, v, want string) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q is not a valid %s", k, v, want))
}

func (e *env) str(k, def string) string {
	if v, ok := e.lookup(k); ok {
		return v
	}
	return def
}

func (e *env) integer(k string, def int) int {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.bad(k, v, "integer")
		return def
	}
	return n
}

func (e *env) number(k string, def float64) float64 {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.bad(k, v, "number")
		return def
	}
	return f
}

func (e *env) dur(k string, def time.Duration) time.Duration {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.bad(k, v, "duration")
		return def
	}
	return d
}

func (e *env) flag(k string, def bool) bool {
	v, ok := e.lookup(k)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	e.bad(k, v, "boolean")
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath returns p with one leading slash and no trailing slash;
// empty input means the root.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
