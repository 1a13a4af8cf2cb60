// Package config reads process configuration from the environment so main
// stays lean. Every backing service is optional: an empty URL selects the
// in-memory implementation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    Server
	Database  Database
	Redis     RedisConfig
	Kafka     Kafka
	Audit     Audit
	Auth      Auth
	Consent   Consent
	RateLimit RateLimit
	LogLevel  slog.Level
}

type Server struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type Database struct {
	URL string
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Kafka struct {
	Brokers        []string
	Topic          string
	ProduceTimeout time.Duration
}

// Enabled reports whether audit entries should be streamed.
func (k Kafka) Enabled() bool {
	return len(k.Brokers) > 0 && k.Topic != ""
}

// Audit tunes the audit publisher. A zero AsyncBuffer keeps writes on the
// request path.
type Audit struct {
	AsyncBuffer int
}

type Auth struct {
	JWTSigningKey string
	Issuer        string
	Audience      string
	SessionTTL    time.Duration
	AdminToken    string
}

// RateLimit caps requests per caller inside a sliding window. Zero requests
// disables limiting.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

func (r RateLimit) Enabled() bool {
	return r.Requests > 0
}

type Consent struct {
	DefaultDurationDays int
	MinPurposeLength    int
}

const devSigningKey = "dev-secret-key-change-in-production"

// maxConsentDays matches the consent service's duration bound.
const maxConsentDays = 36500

// FromEnv builds the configuration. Malformed numeric or duration values are
// an error rather than a silent default.
func FromEnv() (Config, error) {
	var errs []string
	duration := func(key string, def time.Duration) time.Duration {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", key, v))
			return def
		}
		return d
	}
	integer := func(key string, def int) int {
		v := os.Getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid integer %q", key, v))
			return def
		}
		return n
	}

	cfg := Config{
		Server: Server{
			Addr:            getenv("CONSENT_ADDR", ":8080"),
			RequestTimeout:  duration("REQUEST_TIMEOUT", 10*time.Second),
			ShutdownTimeout: duration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: Database{URL: os.Getenv("DATABASE_URL")},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:        splitList(os.Getenv("KAFKA_BROKERS")),
			Topic:          getenv("AUDIT_TOPIC", "consent.audit"),
			ProduceTimeout: duration("KAFKA_PRODUCE_TIMEOUT", 2*time.Second),
		},
		Audit: Audit{AsyncBuffer: integer("AUDIT_ASYNC_BUFFER", 0)},
		Auth: Auth{
			JWTSigningKey: getenv("JWT_SIGNING_KEY", devSigningKey),
			Issuer:        getenv("JWT_ISSUER", "govconsent"),
			Audience:      getenv("JWT_AUDIENCE", "govconsent-api"),
			SessionTTL:    duration("SESSION_TTL", time.Hour),
			AdminToken:    os.Getenv("ADMIN_TOKEN"),
		},
		Consent: Consent{
			DefaultDurationDays: integer("DEFAULT_CONSENT_DAYS", 30),
			MinPurposeLength:    integer("MIN_PURPOSE_LENGTH", 5),
		},
		RateLimit: RateLimit{
			Requests: integer("RATE_LIMIT_REQUESTS", 120),
			Window:   duration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL: %v", err))
	}
	if cfg.Consent.DefaultDurationDays <= 0 || cfg.Consent.DefaultDurationDays > maxConsentDays {
		errs = append(errs, fmt.Sprintf("DEFAULT_CONSENT_DAYS must be between 1 and %d", maxConsentDays))
	}
	if cfg.Consent.MinPurposeLength < 1 {
		errs = append(errs, "MIN_PURPOSE_LENGTH must be at least 1")
	}
	if cfg.Audit.AsyncBuffer < 0 {
		errs = append(errs, "AUDIT_ASYNC_BUFFER must not be negative")
	}
	if cfg.RateLimit.Requests < 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS must not be negative")
	}
	if cfg.RateLimit.Enabled() && cfg.RateLimit.Window <= 0 {
		errs = append(errs, "RATE_LIMIT_WINDOW must be positive")
	}
	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// UsesDevSigningKey flags the built-in key so main can warn about it.
func (c Config) UsesDevSigningKey() bool {
	return c.Auth.JWTSigningKey == devSigningKey
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
