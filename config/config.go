package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved runtime configuration of the service.
type Config struct {
	ApiPort string

	FalconBaseURL      string
	FalconClientID     string
	FalconClientSecret string

	// TokenVerify selects how inbound bearer tokens are inspected: "none"
	// decodes claims without a signature check, "oidc" verifies them against
	// DexIssuer first.
	TokenVerify   string
	DexIssuer     string
	ClientID      string
	DexCACertFile string

	KafkaBroker string
	Topic       string
	MongoURI    string

	OTLPEndpoint string
	OTLPInsecure bool
}

// Load resolves configuration from environment variables on top of defaults.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Config{
		ApiPort:            v.GetString("api_port"),
		FalconBaseURL:      strings.TrimRight(strings.TrimSpace(v.GetString("falcon_base_url")), "/"),
		FalconClientID:     strings.TrimSpace(v.GetString("falcon_client_id")),
		FalconClientSecret: strings.TrimSpace(v.GetString("falcon_client_secret")),
		TokenVerify:        strings.ToLower(strings.TrimSpace(v.GetString("token_verify"))),
		DexIssuer:          v.GetString("dex_issuer_url"),
		ClientID:           v.GetString("dex_client_id"),
		DexCACertFile:      strings.TrimSpace(v.GetString("dex_ca_cert_file")),
		KafkaBroker:        strings.TrimSpace(v.GetString("kafka_broker")),
		Topic:              v.GetString("kafka_topic"),
		MongoURI:           strings.TrimSpace(v.GetString("mongo_uri")),
		OTLPEndpoint:       strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint")),
		OTLPInsecure:       v.GetBool("otel_insecure"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_port", "8080")
	v.SetDefault("falcon_base_url", "https://api.crowdstrike.com")
	v.SetDefault("falcon_client_id", "")
	v.SetDefault("falcon_client_secret", "")
	v.SetDefault("token_verify", "none")
	v.SetDefault("dex_issuer_url", "http://dex:5556/dex")
	v.SetDefault("dex_client_id", "pollprobe")
	v.SetDefault("dex_ca_cert_file", "")
	v.SetDefault("kafka_broker", "")
	v.SetDefault("kafka_topic", "pollprobe-runs")
	v.SetDefault("mongo_uri", "")
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_insecure", false)
}

// ErrInvalidSetting reports a configuration value outside its allowed set.
type ErrInvalidSetting struct{ Key, Value string }

func (e ErrInvalidSetting) Error() string {
	return fmt.Sprintf("invalid value %q for %s", e.Value, e.Key)
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.ApiPort == "" {
		return ErrInvalidSetting{Key: "API_PORT", Value: c.ApiPort}
	}
	if c.FalconBaseURL == "" {
		return ErrInvalidSetting{Key: "FALCON_BASE_URL", Value: c.FalconBaseURL}
	}
	switch c.TokenVerify {
	case "none", "oidc":
	default:
		return ErrInvalidSetting{Key: "TOKEN_VERIFY", Value: c.TokenVerify}
	}
	if (c.FalconClientID == "") != (c.FalconClientSecret == "") {
		return fmt.Errorf("FALCON_CLIENT_ID and FALCON_CLIENT_SECRET must be set together")
	}
	return nil
}

// GetEnv returns the value of the environment variable or a default value
func GetEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}
