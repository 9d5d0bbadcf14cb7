package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type StorageBackend string

const (
	StorageMemory    StorageBackend = "memory"
	StorageFirestore StorageBackend = "firestore"
)

type Provider string

const (
	ProviderOpenAI Provider = "openai" // any OpenAI-compatible endpoint
	ProviderVertex Provider = "vertex"
	ProviderMock   Provider = "mock"
)

type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	StorageBackend StorageBackend `yaml:"storage_backend"` // "memory" or "firestore"
	GCPProjectID   string         `yaml:"gcp_project"`
	GCPLocation    string         `yaml:"gcp_location"`

	Upstream UpstreamConfig `yaml:"upstream"`
	Gateway  GatewayConfig  `yaml:"gateway"`

	ProfileURL   string `yaml:"profile_url"`
	ProfileToken string `yaml:"profile_token"`

	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`

	HistoryWindow   int           `yaml:"history_window"`
	StalenessWindow time.Duration `yaml:"staleness_window"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`

	SupervisorAgent string `yaml:"supervisor_agent"`
	DelegationModel string `yaml:"delegation_model"`

	RateLimit       int           `yaml:"rate_limit"`
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`
}

type UpstreamConfig struct {
	Provider    Provider `yaml:"provider"`
	BaseURL     string   `yaml:"base_url"`
	APIKey      string   `yaml:"api_key"`
	Model       string   `yaml:"model"`
	Temperature float64  `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
}

type GatewayConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	Agent string `yaml:"agent"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:           "8080",
		LogLevel:       "info",
		StorageBackend: StorageMemory,
		GCPLocation:    "us-central1",
		Upstream: UpstreamConfig{
			Provider: ProviderOpenAI,
			BaseURL:  "https://api.moonshot.ai/v1",
			Model:    "kimi-k2.5",
			// the model rejects every other temperature
			Temperature: 1.0,
			MaxTokens:   4096,
		},
		Gateway: GatewayConfig{
			Agent: "katana",
		},
		WebhookTimeout:  5 * time.Second,
		HistoryWindow:   20,
		StalenessWindow: 5 * 24 * time.Hour,
		SweepInterval:   time.Hour,
		SupervisorAgent: "katana",
		DelegationModel: "kimi-k2-turbo-preview",
		RateLimit:       10,
		RateLimitWindow: time.Minute,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load builds the config from defaults, then the YAML file at path (or
// PORTAL_CONFIG when path is empty), then PORTAL_* env vars.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("PORTAL_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	c.Port = getEnv("PORTAL_PORT", getEnv("PORT", c.Port))
	c.LogLevel = getEnv("PORTAL_LOG_LEVEL", c.LogLevel)

	c.StorageBackend = StorageBackend(getEnv("PORTAL_STORAGE_BACKEND", string(c.StorageBackend)))
	c.GCPProjectID = getEnv("PORTAL_GCP_PROJECT", c.GCPProjectID)
	c.GCPLocation = getEnv("PORTAL_GCP_LOCATION", c.GCPLocation)

	c.Upstream.Provider = Provider(getEnv("PORTAL_PROVIDER", string(c.Upstream.Provider)))
	if getBoolEnv("PORTAL_USE_MOCK_LLM", false) {
		c.Upstream.Provider = ProviderMock
	}
	c.Upstream.BaseURL = getEnv("PORTAL_UPSTREAM_BASE_URL", c.Upstream.BaseURL)
	c.Upstream.Model = getEnv("PORTAL_UPSTREAM_MODEL", c.Upstream.Model)
	c.Upstream.MaxTokens = getIntEnv("PORTAL_UPSTREAM_MAX_TOKENS", c.Upstream.MaxTokens)
	// first non-empty wins
	for _, key := range []string{"PORTAL_UPSTREAM_API_KEY", "MOONSHOT_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(key); v != "" {
			c.Upstream.APIKey = v
			break
		}
	}

	c.Gateway.URL = getEnv("PORTAL_GATEWAY_URL", c.Gateway.URL)
	c.Gateway.Token = getEnv("PORTAL_GATEWAY_TOKEN", c.Gateway.Token)
	c.Gateway.Agent = getEnv("PORTAL_GATEWAY_AGENT", c.Gateway.Agent)

	c.ProfileURL = getEnv("PORTAL_PROFILE_URL", c.ProfileURL)
	c.ProfileToken = getEnv("PORTAL_PROFILE_TOKEN", c.ProfileToken)

	c.WebhookURL = getEnv("PORTAL_WEBHOOK_URL", c.WebhookURL)
	c.WebhookTimeout = getDurationEnv("PORTAL_WEBHOOK_TIMEOUT", c.WebhookTimeout)

	c.HistoryWindow = getIntEnv("PORTAL_HISTORY_WINDOW", c.HistoryWindow)
	c.StalenessWindow = getDurationEnv("PORTAL_STALENESS_WINDOW", c.StalenessWindow)
	c.SweepInterval = getDurationEnv("PORTAL_SWEEP_INTERVAL", c.SweepInterval)

	c.SupervisorAgent = getEnv("PORTAL_SUPERVISOR_AGENT", c.SupervisorAgent)
	c.DelegationModel = getEnv("PORTAL_DELEGATION_MODEL", c.DelegationModel)

	c.RateLimit = getIntEnv("PORTAL_RATE_LIMIT", c.RateLimit)
	c.RateLimitWindow = getDurationEnv("PORTAL_RATE_LIMIT_WINDOW", c.RateLimitWindow)
}

// Validate catches settings that make the server unusable. A missing upstream
// API key is deliberately not an error here: it is reported per request.
func (c *Config) Validate() error {
	var errs []error

	switch c.StorageBackend {
	case StorageMemory:
	case StorageFirestore:
		if c.GCPProjectID == "" {
			errs = append(errs, errors.New("PORTAL_GCP_PROJECT is required for firestore storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}

	switch c.Upstream.Provider {
	case ProviderOpenAI, ProviderMock:
	case ProviderVertex:
		if c.GCPProjectID == "" || c.GCPLocation == "" {
			errs = append(errs, errors.New("PORTAL_GCP_PROJECT and PORTAL_GCP_LOCATION must be set for vertex"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Upstream.Provider))
	}

	if c.HistoryWindow <= 0 {
		errs = append(errs, errors.New("history_window must be positive"))
	}
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("rate_limit and rate_limit_window must be positive"))
	}

	return errors.Join(errs...)
}
