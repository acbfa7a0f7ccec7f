package config

import (
	"testing"
	"time"
)

func TestEnvStrFallback(t *testing.T) {
	if v := envStr("INQUEST_TEST_MISSING", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %q", v)
	}
	t.Setenv("INQUEST_TEST_STR", "value")
	if v := envStr("INQUEST_TEST_STR", "fallback"); v != "value" {
		t.Fatalf("expected value, got %q", v)
	}
}

func TestEnvIntParsing(t *testing.T) {
	t.Setenv("INQUEST_TEST_INT", "42")
	if v := envInt("INQUEST_TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	t.Setenv("INQUEST_TEST_INT_BAD", "abc")
	if v := envInt("INQUEST_TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for invalid int, got %d", v)
	}
}

func TestEnvDurationParsing(t *testing.T) {
	t.Setenv("INQUEST_TEST_DUR", "90s")
	if v := envDuration("INQUEST_TEST_DUR", time.Second); v != 90*time.Second {
		t.Fatalf("expected 90s, got %s", v)
	}
	if v := envDuration("INQUEST_TEST_DUR_MISSING", 5*time.Second); v != 5*time.Second {
		t.Fatalf("expected fallback 5s, got %s", v)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.MaxAttempts != 2 {
		t.Errorf("max attempts = %d, want 2", cfg.MaxAttempts)
	}
	if cfg.RuntimeConfigured() {
		t.Error("runtime should be unconfigured by default")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := Config{Port: 8080, MaxAttempts: 2, MaxInputBytes: 1024, RegistryPath: "capabilities.json"}

	cfg := base
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for port 0")
	}

	cfg = base
	cfg.MaxAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max attempts")
	}

	cfg = base
	cfg.MaxInputBytes = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero max input bytes")
	}

	cfg = base
	cfg.RuntimeURL = "http://runtime:9000"
	cfg.RegistryPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for runtime without registry")
	}
}

func TestRuntimeConfigured(t *testing.T) {
	cfg := Config{RuntimeURL: "http://runtime:9000"}
	if !cfg.RuntimeConfigured() {
		t.Error("expected configured")
	}
	cfg.RuntimeURL = ""
	if cfg.RuntimeConfigured() {
		t.Error("expected unconfigured")
	}
}
