package config

import (
	"os"
	"testing"
)

func TestGetEnvHelpers(t *testing.T) {
	os.Setenv("TEST_STR", "value")
	os.Setenv("TEST_INT", "123")
	os.Setenv("TEST_BOOL_TRUE", "true")
	os.Setenv("TEST_BOOL_FALSE", "false")

	if v := getEnv("TEST_STR", ""); v != "value" {
		t.Fatalf("expected value, got %s", v)
	}
	if v := getEnvAsInt("TEST_INT", 0); v != 123 {
		t.Fatalf("expected 123, got %d", v)
	}
	if !getEnvAsBool("TEST_BOOL_TRUE", false) {
		t.Fatalf("expected true")
	}
	if getEnvAsBool("TEST_BOOL_FALSE", true) {
		t.Fatalf("expected false")
	}
}

func TestLoadDefaults(t *testing.T) {
	// ensure no interfering env vars
	_ = os.Unsetenv("SERVER_PORT")
	_ = os.Unsetenv("GENERATION_CODE_LENGTH")
	cfg := Load()
	if cfg.Server.Port == "" {
		t.Fatalf("expected default server port set")
	}
	if cfg.Generation.CodeLength != 10 {
		t.Fatalf("expected default code length 10, got %d", cfg.Generation.CodeLength)
	}
	if cfg.Generation.MaxBatchSize != 1000 {
		t.Fatalf("expected default max batch size 1000, got %d", cfg.Generation.MaxBatchSize)
	}
	if cfg.Sweep.IntervalMinutes != 60 {
		t.Fatalf("expected default sweep interval 60, got %d", cfg.Sweep.IntervalMinutes)
	}
}
