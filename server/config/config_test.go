package config

import (
	"testing"
	"time"
)

var envKeys = []string{
	"PORT", "TRUST_PROXY_HEADERS", "DB_DRIVER", "DATABASE_URL", "SQLITE_PATH", "AUTO_MIGRATE",
	"LOG_FORMAT", "LOG_LEVEL", "CALLBACK_TIMEOUT", "FALLBACK_TIMEOUT", "LLM_MODEL",
	"ELO_K", "RATE_LIMIT_PER_HOUR", "RATE_LIMIT_SHARED", "RATE_LIMIT_MAX_KEYS",
	"R2_ACCOUNT_ID", "CLOUDFLARE_ACCOUNT_ID", "S3_ENDPOINT", "R2_ACCESS_KEY_ID",
	"R2_ACCESS_KEY_SECRET", "R2_BUCKET_NAME", "ARCHIVE_PREFIX",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Addr != ":8080" {
		t.Fatalf("addr = %q", c.Addr)
	}
	if c.DBDriver != "sqlite" || !c.AutoMigrate {
		t.Fatalf("driver = %q automigrate = %v", c.DBDriver, c.AutoMigrate)
	}
	if c.CallbackTimeout != 10*time.Second || c.FallbackTimeout != 20*time.Second {
		t.Fatalf("timeouts = %v %v", c.CallbackTimeout, c.FallbackTimeout)
	}
	if c.RateLimitPerHour != 20 || c.EloK != 24 {
		t.Fatalf("limit = %d k = %v", c.RateLimitPerHour, c.EloK)
	}
	if c.Archive.Enabled() {
		t.Fatal("archive should be off without a bucket")
	}
	if c.TrustProxyHeaders {
		t.Fatal("proxy headers must not be trusted by default")
	}
}

func TestLoadTrustProxyHeaders(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRUST_PROXY_HEADERS", "true")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.TrustProxyHeaders {
		t.Fatal("TRUST_PROXY_HEADERS=true not honoured")
	}
}

func TestLoadPostgresFromURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/arena")
	t.Setenv("RATE_LIMIT_SHARED", "yes")
	t.Setenv("CALLBACK_TIMEOUT", "5")
	t.Setenv("FALLBACK_TIMEOUT", "1500ms")
	t.Setenv("R2_ACCOUNT_ID", "acc")
	t.Setenv("R2_BUCKET_NAME", "transcripts")
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.DBDriver != "postgres" || !c.RateLimitShared {
		t.Fatalf("driver = %q shared = %v", c.DBDriver, c.RateLimitShared)
	}
	if c.CallbackTimeout != 5*time.Second || c.FallbackTimeout != 1500*time.Millisecond {
		t.Fatalf("timeouts = %v %v", c.CallbackTimeout, c.FallbackTimeout)
	}
	if !c.Archive.Enabled() {
		t.Fatal("archive should be on")
	}
}

func TestLoadRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"postgres without url": {"DB_DRIVER": "postgres"},
		"unknown driver":       {"DB_DRIVER": "mysql"},
		"shared on sqlite":     {"RATE_LIMIT_SHARED": "1"},
		"zero limit":           {"RATE_LIMIT_PER_HOUR": "0"},
		"negative k":           {"ELO_K": "-3"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	if atoiDef("x", 7) != 7 || atoiDef("3", 7) != 3 {
		t.Fatal("atoiDef")
	}
	for _, s := range []string{"1", "true", "YES", " on "} {
		if !asBool(s) {
			t.Fatalf("asBool(%q) = false", s)
		}
	}
	if asBool("0") || asBool("") {
		t.Fatal("asBool false values")
	}
	if durationDef("nope", time.Minute) != time.Minute || durationDef("-1s", time.Minute) != time.Minute {
		t.Fatal("durationDef fallback")
	}
}
