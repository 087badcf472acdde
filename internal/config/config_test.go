package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"APP_ENV", "HTTP_PORT", "DATABASE_DRIVER", "ACCESS_TTL", "DEFAULT_PAGE_SIZE"} {
		t.Setenv(key, "")
	}
	cfg := FromEnv()
	if cfg.HTTPPort != "5000" {
		t.Errorf("HTTPPort = %q, want 5000", cfg.HTTPPort)
	}
	if cfg.DatabaseDriver != "pgx" {
		t.Errorf("DatabaseDriver = %q, want pgx", cfg.DatabaseDriver)
	}
	if cfg.DefaultPageSize != 10 {
		t.Errorf("DefaultPageSize = %d, want 10", cfg.DefaultPageSize)
	}
	if cfg.Production() {
		t.Error("dev env must not be production")
	}
}

func TestFromEnvOverridesAndFallbacks(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("ACCESS_TTL", "15m")
	t.Setenv("REFRESH_TTL", "not-a-duration")
	t.Setenv("RATE_LIMIT_PER_MIN", "abc")
	t.Setenv("MAX_PAGE_SIZE", "50")

	cfg := FromEnv()
	if !cfg.Production() {
		t.Error("expected production")
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL = %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 30*24*time.Hour {
		t.Errorf("RefreshTTL should fall back, got %v", cfg.RefreshTTL)
	}
	if cfg.RateLimitPerMin != 120 {
		t.Errorf("RateLimitPerMin should fall back, got %d", cfg.RateLimitPerMin)
	}
	if cfg.MaxPageSize != 50 {
		t.Errorf("MaxPageSize = %d", cfg.MaxPageSize)
	}
}
