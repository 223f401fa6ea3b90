// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// DefaultQuizInterval is the number of chat turns between micro-quiz injections.
const DefaultQuizInterval = 3

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	CatalogDir  string // empty = embedded catalogue
	Store       StoreConfig
	Session     SessionConfig
	Learning    LearningConfig
	Assistant   AssistantConfig
	AuditLog    AuditLogConfig
	RateLimit   RateLimitConfig
	MaxBodySize int64
}

// StoreConfig selects and configures the persistence driver.
type StoreConfig struct {
	Driver    string
	DBPath    string
	RedisAddr string
	RedisDB   int
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL           time.Duration
	EvictInterval time.Duration
	// ResetOnReuse restores the demo behaviour where get-or-create with an
	// existing id wipes the session instead of resuming it.
	ResetOnReuse bool
}

// LearningConfig holds the thresholds of the learning flows.
type LearningConfig struct {
	QuizInterval            int
	CoursePassThreshold     int
	DiagnosticPassThreshold int
}

// AssistantConfig points at the chat assistant service.
type AssistantConfig struct {
	Addr           string // empty = offline responder
	RequestTimeout time.Duration
}

// AuditLogConfig controls the NDJSON audit sink.
type AuditLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// RateLimitConfig throttles chat turns per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CatalogDir:  getEnv("CATALOG_DIR", ""),
		Store: StoreConfig{
			Driver:    strings.ToLower(getEnv("STORE_DRIVER", StoreSQLite)),
			DBPath:    getEnv("DB_PATH", "./data/fincoach.db"),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			RedisDB:   getEnvInt("REDIS_DB", 0),
		},
		Session: SessionConfig{
			TTL:           getEnvDuration("SESSION_TTL", 2*time.Hour),
			EvictInterval: getEnvDuration("SESSION_EVICT_INTERVAL", 5*time.Minute),
			ResetOnReuse:  getEnvBool("SESSION_RESET_ON_REUSE", false),
		},
		Learning: LearningConfig{
			QuizInterval:            getEnvInt("QUIZ_INTERVAL", DefaultQuizInterval),
			CoursePassThreshold:     getEnvInt("COURSE_PASS_THRESHOLD", 70),
			DiagnosticPassThreshold: getEnvInt("DIAGNOSTIC_PASS_THRESHOLD", 60),
		},
		Assistant: AssistantConfig{
			Addr:           getEnv("ASSISTANT_ADDR", ""),
			RequestTimeout: getEnvDuration("ASSISTANT_TIMEOUT", 60*time.Second),
		},
		AuditLog: AuditLogConfig{
			Enabled:   getEnvBool("AUDIT_LOG_ENABLED", true),
			Dir:       getEnv("AUDIT_LOG_DIR", "./data/logs/audit"),
			QueueSize: getEnvInt("AUDIT_LOG_QUEUE_SIZE", 1000),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxBodySize: int64(getEnvInt("MAX_REQUEST_BODY", 1<<20)),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty for the sqlite driver")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty for the redis driver")
		}
	default:
		return fmt.Errorf("STORE_DRIVER %q is not one of memory, sqlite, redis", c.Store.Driver)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.Session.EvictInterval <= 0 {
		return fmt.Errorf("SESSION_EVICT_INTERVAL must be > 0")
	}
	if c.Learning.QuizInterval <= 0 {
		return fmt.Errorf("QUIZ_INTERVAL must be > 0")
	}
	if !isPercent(c.Learning.CoursePassThreshold) {
		return fmt.Errorf("COURSE_PASS_THRESHOLD must be within 0-100")
	}
	if !isPercent(c.Learning.DiagnosticPassThreshold) {
		return fmt.Errorf("DIAGNOSTIC_PASS_THRESHOLD must be within 0-100")
	}
	if c.AuditLog.Enabled && c.AuditLog.Dir == "" {
		return fmt.Errorf("AUDIT_LOG_DIR cannot be empty")
	}
	if c.AuditLog.QueueSize <= 0 {
		return fmt.Errorf("AUDIT_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origin list.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
}

func isPercent(v int) bool {
	return v >= 0 && v <= 100
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
