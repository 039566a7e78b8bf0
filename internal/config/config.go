// Package config provides application configuration loaded from environment
// variables with defaults and validation. An optional YAML file named by
// CONFIG_FILE supplies values for any variable the environment leaves unset.
// It centralizes settings such as server timeouts, logging, the database,
// the realtime gateway, the cache tiers, reconciliation and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RealtimeConfig tunes the websocket gateway and the send path.
type RealtimeConfig struct {
	Path            string        // WS_PATH
	AllowedOrigins  []string      // WS_ALLOWED_ORIGINS, host patterns; empty allows any
	WriteTimeout    time.Duration // WS_WRITE_TIMEOUT
	OutboxSize      int           // WS_OUTBOX_SIZE, buffered events per connection
	MaxMessageBytes int64         // WS_MAX_MESSAGE_BYTES
	EventRPS        float64       // EVENT_RPS, inbound events per second per connection (0 disables)
	EventBurst      int           // EVENT_BURST
	MaxBodyRunes    int           // MAX_BODY_RUNES (0 disables)
}

// CacheConfig selects the cache tier and its TTLs.
type CacheConfig struct {
	Backend    string        // CACHE_BACKEND memory|pebble
	PebblePath string        // CACHE_PEBBLE_PATH
	RosterTTL  time.Duration // ROSTER_TTL
	AckTTL     time.Duration // ACK_TTL
}

// ReconcileConfig drives the background loops.
type ReconcileConfig struct {
	RosterRefreshInterval time.Duration // ROSTER_REFRESH_INTERVAL
	RosterRefreshCron     string        // ROSTER_REFRESH_CRON, overrides the interval
	OfflineRetryInterval  time.Duration // OFFLINE_RETRY_INTERVAL
	ChangeFeedInterval    time.Duration // CHANGE_FEED_POLL_INTERVAL
	BackfillLimit         int           // BACKFILL_LIMIT
	PendingBatch          int           // PENDING_BATCH
	IncludeSender         bool          // FLUSH_INCLUDE_SENDER
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful drain
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Database
	DBPath string // SQLite path

	// Rate limiting (REST)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS CORSConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a send correlation id is remembered

	Realtime  RealtimeConfig
	Cache     CacheConfig
	Reconcile ReconcileConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables and the optional
// CONFIG_FILE, applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		vals, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		src = vals
	}

	cfg := Config{
		// Server
		Port:              src.str("PORT", "8080"),
		ReadTimeout:       src.dur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: src.dur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      src.dur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       src.dur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   src.dur("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    int(src.bytes("MAX_HEADER_BYTES", 1<<20)),
		GinMode:           strings.ToLower(src.str("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(src.str("LOG_LEVEL", "info")),
		LogPretty:      src.bool("LOG_PRETTY", false),
		SwaggerEnabled: src.bool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(src.str("API_BASE_PATH", "/api/v1")),

		// Database
		DBPath: src.str("DB_PATH", "chat.db"),

		// Rate limiting
		RateRPS:   src.float("RATE_RPS", 5.0),
		RateBurst: src.int("RATE_BURST", 10),

		CORS: CORSConfig{
			AllowedOrigins: splitCSV(src.str("CORS_ALLOWED_ORIGINS", "")),
		},

		IdempotencyTTL: src.dur("IDEMPOTENCY_TTL", 24*time.Hour),

		Realtime: RealtimeConfig{
			Path:            normalizeBasePath(src.str("WS_PATH", "/ws")),
			AllowedOrigins:  splitCSV(src.str("WS_ALLOWED_ORIGINS", "")),
			WriteTimeout:    src.dur("WS_WRITE_TIMEOUT", 10*time.Second),
			OutboxSize:      src.int("WS_OUTBOX_SIZE", 256),
			MaxMessageBytes: int64(src.bytes("WS_MAX_MESSAGE_BYTES", 64<<10)),
			EventRPS:        src.float("EVENT_RPS", 20),
			EventBurst:      src.int("EVENT_BURST", 40),
			MaxBodyRunes:    src.int("MAX_BODY_RUNES", 4000),
		},

		Cache: CacheConfig{
			Backend:    strings.ToLower(src.str("CACHE_BACKEND", "memory")),
			PebblePath: src.str("CACHE_PEBBLE_PATH", "data/cache"),
			RosterTTL:  src.dur("ROSTER_TTL", time.Hour),
			AckTTL:     src.dur("ACK_TTL", 24*time.Hour),
		},

		Reconcile: ReconcileConfig{
			RosterRefreshInterval: src.dur("ROSTER_REFRESH_INTERVAL", 15*time.Minute),
			RosterRefreshCron:     strings.TrimSpace(src.str("ROSTER_REFRESH_CRON", "")),
			OfflineRetryInterval:  src.dur("OFFLINE_RETRY_INTERVAL", 30*time.Second),
			ChangeFeedInterval:    src.dur("CHANGE_FEED_POLL_INTERVAL", 2*time.Second),
			BackfillLimit:         src.int("BACKFILL_LIMIT", 500),
			PendingBatch:          src.int("PENDING_BATCH", 200),
			IncludeSender:         src.bool("FLUSH_INCLUDE_SENDER", false),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     src.bool("OTEL_ENABLED", false),
			Endpoint:    src.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    src.bool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: src.str("OTEL_SERVICE_NAME", "go-chatroom-delivery"),
			SampleRatio: src.float("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if err := cfg.Realtime.validate(cfg.APIBasePath); err != nil {
		return cfg, err
	}
	if err := cfg.Cache.validate(); err != nil {
		return cfg, err
	}
	if err := cfg.Reconcile.validate(); err != nil {
		return cfg, err
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

func (r RealtimeConfig) validate(apiBase string) error {
	if r.Path == "/" || r.Path == apiBase {
		return fmt.Errorf("WS_PATH %q collides with another route", r.Path)
	}
	if r.WriteTimeout <= 0 {
		return errors.New("WS_WRITE_TIMEOUT must be > 0")
	}
	if r.OutboxSize < 1 {
		return errors.New("WS_OUTBOX_SIZE must be >= 1")
	}
	if r.MaxMessageBytes < 1 {
		return errors.New("WS_MAX_MESSAGE_BYTES must be >= 1")
	}
	if r.EventRPS < 0 {
		return errors.New("EVENT_RPS must be >= 0")
	}
	if r.EventRPS > 0 && r.EventBurst < 1 {
		return errors.New("EVENT_BURST must be >= 1")
	}
	if r.MaxBodyRunes < 0 {
		return errors.New("MAX_BODY_RUNES must be >= 0")
	}
	return nil
}

func (c CacheConfig) validate() error {
	switch c.Backend {
	case "memory":
	case "pebble":
		if strings.TrimSpace(c.PebblePath) == "" {
			return errors.New("CACHE_PEBBLE_PATH must not be empty for the pebble backend")
		}
	default:
		return fmt.Errorf("CACHE_BACKEND must be memory or pebble, got %q", c.Backend)
	}
	if c.RosterTTL <= 0 || c.AckTTL <= 0 {
		return errors.New("ROSTER_TTL and ACK_TTL must be > 0")
	}
	return nil
}

func (r ReconcileConfig) validate() error {
	if r.RosterRefreshCron != "" && !gronx.IsValid(r.RosterRefreshCron) {
		return fmt.Errorf("ROSTER_REFRESH_CRON %q is not a valid cron expression", r.RosterRefreshCron)
	}
	if r.RosterRefreshCron == "" && r.RosterRefreshInterval <= 0 {
		return errors.New("ROSTER_REFRESH_INTERVAL must be > 0 when no cron is set")
	}
	if r.OfflineRetryInterval <= 0 || r.ChangeFeedInterval <= 0 {
		return errors.New("OFFLINE_RETRY_INTERVAL and CHANGE_FEED_POLL_INTERVAL must be > 0")
	}
	if r.BackfillLimit < 1 {
		return errors.New("BACKFILL_LIMIT must be >= 1")
	}
	if r.PendingBatch < 1 {
		return errors.New("PENDING_BATCH must be >= 1")
	}
	return nil
}

// ---- helpers ----

// source resolves a key from the environment first, then from the values
// read out of CONFIG_FILE.
type source map[string]string

func (s source) lookup(k string) (string, bool) {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v, true
	}
	if v, ok := s[k]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (s source) str(k, def string) string {
	if v, ok := s.lookup(k); ok {
		return v
	}
	return def
}

func (s source) float(k string, def float64) float64 {
	if v, ok := s.lookup(k); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (s source) int(k string, def int) int {
	if v, ok := s.lookup(k); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func (s source) bool(k string, def bool) bool {
	if v, ok := s.lookup(k); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

// bytes accepts plain numbers and sizes such as "64KiB" or "1MB".
func (s source) bytes(k string, def uint64) uint64 {
	if v, ok := s.lookup(k); ok {
		if n, err := humanize.ParseBytes(v); err == nil {
			return n
		}
	}
	return def
}

func (s source) dur(k string, def time.Duration) time.Duration {
	if v, ok := s.lookup(k); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
