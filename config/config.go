package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration for the custody gateway.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`
	DataDir       string `toml:"DataDir"`

	ReadTimeoutSeconds  int `toml:"ReadTimeoutSeconds"`
	WriteTimeoutSeconds int `toml:"WriteTimeoutSeconds"`
	IdleTimeoutSeconds  int `toml:"IdleTimeoutSeconds"`

	Auth          AuthConfig          `toml:"Auth"`
	RateLimits    []RateLimitConfig   `toml:"RateLimits"`
	CORS          CORSConfig          `toml:"CORS"`
	Observability ObservabilityConfig `toml:"Observability"`
	Webhooks      WebhookConfig       `toml:"Webhooks"`
}

// AuthConfig configures request signing verification.
type AuthConfig struct {
	Enabled              bool              `toml:"Enabled"`
	APIKeys              map[string]string `toml:"APIKeys"`
	TimestampSkewSeconds int               `toml:"TimestampSkewSeconds"`
	ReplayWindowSeconds  int               `toml:"ReplayWindowSeconds"`
	ReplayCapacity       int               `toml:"ReplayCapacity"`
	NonceStorePath       string            `toml:"NonceStorePath"`
}

// RateLimitConfig is the per-client budget applied to a route group.
type RateLimitConfig struct {
	Group             string  `toml:"Group"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// CORSConfig controls the cross-origin policy of the gateway.
type CORSConfig struct {
	AllowedOrigins   []string `toml:"AllowedOrigins"`
	AllowedMethods   []string `toml:"AllowedMethods"`
	AllowedHeaders   []string `toml:"AllowedHeaders"`
	AllowCredentials bool     `toml:"AllowCredentials"`
}

// ObservabilityConfig wires logging and telemetry exporters.
type ObservabilityConfig struct {
	ServiceName  string `toml:"ServiceName"`
	LogFile      string `toml:"LogFile"`
	OTLPEndpoint string `toml:"OTLPEndpoint"`
	OTLPInsecure bool   `toml:"OTLPInsecure"`
	OTLPHeaders  string `toml:"OTLPHeaders"`
	Metrics      bool   `toml:"Metrics"`
	Traces       bool   `toml:"Traces"`
}

// WebhookConfig configures outbound event delivery.
type WebhookConfig struct {
	Endpoints      []string `toml:"Endpoints"`
	Secret         string   `toml:"Secret"`
	Workers        int      `toml:"Workers"`
	QueueSize      int      `toml:"QueueSize"`
	TimeoutSeconds int      `toml:"TimeoutSeconds"`
	MaxAttempts    int      `toml:"MaxAttempts"`
}

// Load reads the configuration at path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ListenAddress:       ":8080",
		Environment:         "dev",
		DataDir:             "./custodia-data",
		ReadTimeoutSeconds:  30,
		WriteTimeoutSeconds: 30,
		IdleTimeoutSeconds:  120,
		Auth: AuthConfig{
			Enabled:              true,
			APIKeys:              map[string]string{},
			TimestampSkewSeconds: 120,
			ReplayWindowSeconds:  600,
			ReplayCapacity:       4096,
		},
		RateLimits: []RateLimitConfig{
			{Group: "mutations", RequestsPerMinute: 120, Burst: 20},
		},
		Observability: ObservabilityConfig{
			ServiceName: "custody-gateway",
			Metrics:     true,
			Traces:      false,
		},
		Webhooks: WebhookConfig{
			Workers:        2,
			QueueSize:      1024,
			TimeoutSeconds: 10,
			MaxAttempts:    5,
		},
	}
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	defaults := defaultConfig()
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = defaults.ListenAddress
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = defaults.Environment
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaults.DataDir
	}
	if cfg.ReadTimeoutSeconds <= 0 {
		cfg.ReadTimeoutSeconds = defaults.ReadTimeoutSeconds
	}
	if cfg.WriteTimeoutSeconds <= 0 {
		cfg.WriteTimeoutSeconds = defaults.WriteTimeoutSeconds
	}
	if cfg.IdleTimeoutSeconds <= 0 {
		cfg.IdleTimeoutSeconds = defaults.IdleTimeoutSeconds
	}
	if cfg.Auth.APIKeys == nil {
		cfg.Auth.APIKeys = map[string]string{}
	}
	if cfg.Auth.TimestampSkewSeconds <= 0 {
		cfg.Auth.TimestampSkewSeconds = defaults.Auth.TimestampSkewSeconds
	}
	if cfg.Auth.ReplayWindowSeconds <= 0 {
		cfg.Auth.ReplayWindowSeconds = defaults.Auth.ReplayWindowSeconds
	}
	if cfg.Auth.ReplayCapacity <= 0 {
		cfg.Auth.ReplayCapacity = defaults.Auth.ReplayCapacity
	}
	if strings.TrimSpace(cfg.Auth.NonceStorePath) == "" {
		cfg.Auth.NonceStorePath = filepath.Join(cfg.DataDir, "nonces")
	}
	if strings.TrimSpace(cfg.Observability.ServiceName) == "" {
		cfg.Observability.ServiceName = defaults.Observability.ServiceName
	}
	if cfg.Webhooks.Workers <= 0 {
		cfg.Webhooks.Workers = defaults.Webhooks.Workers
	}
	if cfg.Webhooks.QueueSize <= 0 {
		cfg.Webhooks.QueueSize = defaults.Webhooks.QueueSize
	}
	if cfg.Webhooks.TimeoutSeconds <= 0 {
		cfg.Webhooks.TimeoutSeconds = defaults.Webhooks.TimeoutSeconds
	}
	if cfg.Webhooks.MaxAttempts <= 0 {
		cfg.Webhooks.MaxAttempts = defaults.Webhooks.MaxAttempts
	}
}

// Validate rejects configurations that would run the gateway in an unsafe or
// unusable shape.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("ListenAddress required")
	}
	if cfg.Auth.Enabled && !isDevEnv(cfg.Environment) && len(cfg.Auth.APIKeys) == 0 {
		return fmt.Errorf("Auth.APIKeys required outside the dev environment")
	}
	for key, secret := range cfg.Auth.APIKeys {
		if strings.TrimSpace(key) == "" || strings.TrimSpace(secret) == "" {
			return fmt.Errorf("Auth.APIKeys entries need a non-empty key and secret")
		}
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, limit := range cfg.RateLimits {
		group := strings.TrimSpace(limit.Group)
		if group == "" {
			return fmt.Errorf("RateLimits[%d].Group required", i)
		}
		if _, dup := seen[group]; dup {
			return fmt.Errorf("RateLimits group %q configured twice", group)
		}
		seen[group] = struct{}{}
	}
	return nil
}

// TimestampSkew returns the auth skew as a duration.
func (a AuthConfig) TimestampSkew() time.Duration {
	return time.Duration(a.TimestampSkewSeconds) * time.Second
}

// ReplayWindow returns the nonce replay window as a duration.
func (a AuthConfig) ReplayWindow() time.Duration {
	return time.Duration(a.ReplayWindowSeconds) * time.Second
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

func isDevEnv(env string) bool {
	return strings.EqualFold(strings.TrimSpace(env), "dev")
}
