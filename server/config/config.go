// Package config reads process settings from the environment. Call
// godotenv.Load before Load so a local .env file is honoured.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"roast-arena/server/archive"
)

type Config struct {
	Addr string
	// TrustProxyHeaders takes the client address from X-Forwarded-For,
	// X-Real-IP or True-Client-IP instead of the socket.
	TrustProxyHeaders bool

	DBDriver    string // postgres | sqlite
	DatabaseURL string
	SQLitePath  string
	AutoMigrate bool

	LogFormat string // json | text
	LogLevel  string

	CallbackTimeout time.Duration
	FallbackTimeout time.Duration
	LLMModel        string

	EloK float64

	RateLimitPerHour int
	RateLimitShared  bool
	RateLimitMaxKeys int

	Archive archive.Config
}

func Load() (Config, error) {
	c := Config{
		Addr:              ":" + getenv("PORT", "8080"),
		TrustProxyHeaders: asBool(os.Getenv("TRUST_PROXY_HEADERS")),
		DBDriver:          strings.ToLower(getenv("DB_DRIVER", "")),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        getenv("SQLITE_PATH", "roast-arena.db"),
		AutoMigrate:       asBool(getenv("AUTO_MIGRATE", "1")),
		LogFormat:         strings.ToLower(getenv("LOG_FORMAT", "text")),
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		CallbackTimeout:   durationDef(os.Getenv("CALLBACK_TIMEOUT"), 10*time.Second),
		FallbackTimeout:   durationDef(os.Getenv("FALLBACK_TIMEOUT"), 20*time.Second),
		LLMModel:          os.Getenv("LLM_MODEL"),
		EloK:              floatDef(os.Getenv("ELO_K"), 24),
		RateLimitPerHour:  atoiDef(os.Getenv("RATE_LIMIT_PER_HOUR"), 20),
		RateLimitShared:   asBool(os.Getenv("RATE_LIMIT_SHARED")),
		RateLimitMaxKeys:  atoiDef(os.Getenv("RATE_LIMIT_MAX_KEYS"), 10000),
		Archive: archive.Config{
			AccountID: getenv("R2_ACCOUNT_ID", os.Getenv("CLOUDFLARE_ACCOUNT_ID")),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("R2_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:    os.Getenv("R2_BUCKET_NAME"),
			Prefix:    os.Getenv("ARCHIVE_PREFIX"),
		},
	}
	if c.DBDriver == "" {
		c.DBDriver = "sqlite"
		if c.DatabaseURL != "" {
			c.DBDriver = "postgres"
		}
	}
	return c, c.validate()
}

func (c Config) validate() error {
	switch c.DBDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.RateLimitShared && c.DBDriver != "postgres" {
		return errors.New("RATE_LIMIT_SHARED needs DB_DRIVER=postgres")
	}
	if c.RateLimitPerHour < 1 {
		return errors.New("RATE_LIMIT_PER_HOUR must be positive")
	}
	if c.EloK <= 0 {
		return errors.New("ELO_K must be positive")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func atoiDef(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func floatDef(s string, def float64) float64 {
	if s == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return def
	}
	return f
}

// durationDef accepts Go durations ("15s") or plain seconds ("15").
func durationDef(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n := atoiDef(s, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func asBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
