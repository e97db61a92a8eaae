package config

import (
	"errors"
	"os"
	"testing"
)

func TestGetEnv(t *testing.T) {
	// Test case 1: Environment variable is set
	os.Setenv("TEST_ENV_VAR", "test_value")
	value := GetEnv("TEST_ENV_VAR", "default_value")
	if value != "test_value" {
		t.Errorf("Expected 'test_value', but got '%s'", value)
	}
	os.Unsetenv("TEST_ENV_VAR")

	// Test case 2: Environment variable is not set, should return default value
	value = GetEnv("NON_EXISTENT_VAR", "default_value")
	if value != "default_value" {
		t.Errorf("Expected 'default_value', but got '%s'", value)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ApiPort != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.ApiPort)
	}
	if cfg.FalconBaseURL != "https://api.crowdstrike.com" {
		t.Errorf("unexpected base url %q", cfg.FalconBaseURL)
	}
	if cfg.TokenVerify != "none" {
		t.Errorf("expected token verify none, got %q", cfg.TokenVerify)
	}
	if cfg.KafkaBroker != "" || cfg.MongoURI != "" {
		t.Errorf("reporting sinks should be disabled by default: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("API_PORT", "9090")
	t.Setenv("FALCON_BASE_URL", "https://api.eu-1.crowdstrike.com/")
	t.Setenv("KAFKA_BROKER", "kafka:9092")
	t.Setenv("OTEL_INSECURE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ApiPort != "9090" {
		t.Errorf("expected 9090, got %q", cfg.ApiPort)
	}
	if cfg.FalconBaseURL != "https://api.eu-1.crowdstrike.com" {
		t.Errorf("trailing slash not trimmed: %q", cfg.FalconBaseURL)
	}
	if cfg.KafkaBroker != "kafka:9092" || !cfg.OTLPInsecure {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnknownVerifyMode(t *testing.T) {
	t.Setenv("TOKEN_VERIFY", "maybe")
	_, err := Load()
	var invalid ErrInvalidSetting
	if !errors.As(err, &invalid) || invalid.Key != "TOKEN_VERIFY" {
		t.Fatalf("expected ErrInvalidSetting for TOKEN_VERIFY, got %v", err)
	}
}

func TestLoadRequiresCredentialPair(t *testing.T) {
	t.Setenv("FALCON_CLIENT_ID", "id-only")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when only client id is set")
	}
}
