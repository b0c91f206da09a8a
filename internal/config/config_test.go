package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryInit != 20 {
		t.Errorf("HistoryInit: expected 20, got %d", cfg.HistoryInit)
	}
	if cfg.RateLimit != 20 {
		t.Errorf("RateLimit: expected 20, got %d", cfg.RateLimit)
	}
	if cfg.RateWindow != time.Hour {
		t.Errorf("RateWindow: expected 1h, got %s", cfg.RateWindow)
	}
	if cfg.ComplaintThreshold != 3 {
		t.Errorf("ComplaintThreshold: expected 3, got %d", cfg.ComplaintThreshold)
	}
	if cfg.BanDuration != 240*time.Minute {
		t.Errorf("BanDuration: expected 240m, got %s", cfg.BanDuration)
	}
	if cfg.Retention != time.Hour {
		t.Errorf("Retention: expected 1h, got %s", cfg.Retention)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Errorf("logging defaults wrong: %q %q", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LINECHAT_RATE_LIMIT", "5")
	t.Setenv("LINECHAT_RATE_WINDOW", "30s")
	t.Setenv("LINECHAT_OPS_ADDR", "")
	t.Setenv("LINECHAT_LOG_FORMAT", "pretty")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RateLimit != 5 {
		t.Errorf("RateLimit: expected 5, got %d", cfg.RateLimit)
	}
	if cfg.RateWindow != 30*time.Second {
		t.Errorf("RateWindow: expected 30s, got %s", cfg.RateWindow)
	}
	if cfg.OpsAddr != "" {
		t.Errorf("OpsAddr: expected empty, got %q", cfg.OpsAddr)
	}
	if cfg.LogFormat != "pretty" {
		t.Errorf("LogFormat: expected pretty, got %q", cfg.LogFormat)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("LINECHAT_RATE_LIMIT", "0")
	if _, err := Load(); err == nil {
		t.Fatal("expected a zero rate limit to fail validation")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("LINECHAT_LOG_LEVEL", "loud")
	if _, err := Load(); err == nil {
		t.Fatal("expected an unknown log level to fail validation")
	}
}

func TestLoggerHonorsLevel(t *testing.T) {
	cfg := &Config{LogLevel: "error", LogFormat: "json"}
	log := cfg.Logger("test")
	if got := log.GetLevel(); got != zerolog.ErrorLevel {
		t.Fatalf("expected error level, got %s", got)
	}
}
