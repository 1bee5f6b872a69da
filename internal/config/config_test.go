package config

import (
	"testing"
	"time"
)

func TestLoadRequiresSigningSecret(t *testing.T) {
	t.Setenv("ACCESS_SIGNING_SECRET", "")

	if _, err := Load(); err == nil {
		t.Error("expected error when ACCESS_SIGNING_SECRET is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ACCESS_SIGNING_SECRET", "test-secret")
	t.Setenv("PORT", "")
	t.Setenv("BASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.DBPath != "access.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.RegionPriceCents != 495 {
		t.Errorf("RegionPriceCents = %d, want 495", cfg.RegionPriceCents)
	}
	if cfg.Currency != "eur" {
		t.Errorf("Currency = %q, want eur", cfg.Currency)
	}
	if cfg.ValidityWindow != 30*24*time.Hour {
		t.Errorf("ValidityWindow = %v, want 720h", cfg.ValidityWindow)
	}
	if cfg.LinkTTL != 30*time.Minute {
		t.Errorf("LinkTTL = %v, want 30m", cfg.LinkTTL)
	}
	if cfg.RegionFallback != "" {
		t.Errorf("RegionFallback = %q, want empty (reject unknown regions)", cfg.RegionFallback)
	}
	if cfg.RateLimitPerMinute != 10 {
		t.Errorf("RateLimitPerMinute = %d, want 10", cfg.RateLimitPerMinute)
	}
	if cfg.BackupHourUTC != 3 {
		t.Errorf("BackupHourUTC = %d, want 3", cfg.BackupHourUTC)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACCESS_SIGNING_SECRET", "test-secret")
	t.Setenv("PORT", "9000")
	t.Setenv("VALIDITY_WINDOW", "168h")
	t.Setenv("LINK_TTL", "15m")
	t.Setenv("REGION_FALLBACK", "centre")
	t.Setenv("REGION_PRICE_CENTS", "995")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Port = %q, want 9000", cfg.Port)
	}
	if cfg.BaseURL != "http://localhost:9000" {
		t.Errorf("BaseURL = %q, want derived from PORT", cfg.BaseURL)
	}
	if cfg.ValidityWindow != 168*time.Hour {
		t.Errorf("ValidityWindow = %v, want 168h", cfg.ValidityWindow)
	}
	if cfg.LinkTTL != 15*time.Minute {
		t.Errorf("LinkTTL = %v, want 15m", cfg.LinkTTL)
	}
	if cfg.RegionFallback != "centre" {
		t.Errorf("RegionFallback = %q, want centre", cfg.RegionFallback)
	}
	if cfg.RegionPriceCents != 995 {
		t.Errorf("RegionPriceCents = %d, want 995", cfg.RegionPriceCents)
	}
}

func TestLoadBadValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("ACCESS_SIGNING_SECRET", "test-secret")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "lots")
	t.Setenv("VALIDITY_WINDOW", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateLimitPerMinute != 10 {
		t.Errorf("RateLimitPerMinute = %d, want default 10", cfg.RateLimitPerMinute)
	}
	if cfg.ValidityWindow != 30*24*time.Hour {
		t.Errorf("ValidityWindow = %v, want default 720h", cfg.ValidityWindow)
	}
}
