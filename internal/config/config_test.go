package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "18000")
	t.Setenv("DATABASE_DRIVER", "sqlite3")
	t.Setenv("DATABASE_URL", "file:test.db")
	t.Setenv("ACCESS_TTL", "30m")
	t.Setenv("SESSION_TTL", "0s")
	t.Setenv("LEGACY_COURSE_CHECKIN", "true")
	t.Setenv("ABSENTEE_FALLBACK", "students")
	t.Setenv("RATE_LIMIT_PER_MIN", "5")

	cfg := Load()
	if cfg.HTTPPort != "18000" {
		t.Fatalf("expected HTTP_PORT override, got %s", cfg.HTTPPort)
	}
	if cfg.DatabaseDriver != "sqlite3" || cfg.DatabaseURL != "file:test.db" {
		t.Fatalf("expected database overrides, got %s %s", cfg.DatabaseDriver, cfg.DatabaseURL)
	}
	if cfg.AccessTTL != 30*time.Minute {
		t.Fatalf("expected ACCESS_TTL 30m, got %s", cfg.AccessTTL)
	}
	if cfg.SessionTTL != 0 {
		t.Fatalf("expected SESSION_TTL 0, got %s", cfg.SessionTTL)
	}
	if !cfg.LegacyCheckin {
		t.Fatalf("expected legacy checkin enabled")
	}
	if cfg.AbsenteePolicy != "students" {
		t.Fatalf("expected students policy, got %s", cfg.AbsenteePolicy)
	}
	if cfg.RateLimitPerMin != 5 {
		t.Fatalf("expected rate limit 5, got %d", cfg.RateLimitPerMin)
	}
}

func TestLoadFallbacks(t *testing.T) {
	t.Setenv("REFRESH_TTL", "not-a-duration")
	t.Setenv("BCRYPT_COST", "abc")
	t.Setenv("LEGACY_COURSE_CHECKIN", "maybe")

	cfg := Load()
	if cfg.RefreshTTL != 24*time.Hour {
		t.Fatalf("expected fallback refresh ttl, got %s", cfg.RefreshTTL)
	}
	if cfg.BcryptCost != 12 {
		t.Fatalf("expected fallback bcrypt cost, got %d", cfg.BcryptCost)
	}
	if cfg.LegacyCheckin {
		t.Fatalf("expected legacy checkin to stay disabled")
	}
}

func TestRedisEnabledOnlyForRedisBackend(t *testing.T) {
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")
	if Load().RedisEnabled() {
		t.Fatalf("memory backend must not enable redis")
	}

	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	if !Load().RedisEnabled() {
		t.Fatalf("redis backend with an address should enable redis")
	}

	t.Setenv("RATE_LIMIT_PER_MIN", "0")
	if Load().RedisEnabled() {
		t.Fatalf("disabled rate limiting must not enable redis")
	}

	t.Setenv("RATE_LIMIT_PER_MIN", "60")
	t.Setenv("REDIS_ADDR", "")
	if Load().RedisEnabled() {
		t.Fatalf("empty address must not enable redis")
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := App{JWTSigningKey: "top-secret", QRTokenKey: "qr-secret", SeedPassword: "pw"}
	s := cfg.String()
	for _, secret := range []string{"top-secret", "qr-secret", "pw"} {
		if strings.Contains(s, secret) {
			t.Fatalf("config string leaks %q: %s", secret, s)
		}
	}
}
