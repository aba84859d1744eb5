package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration validation constants
const (
	MinRefreshInterval = 60    // Minimum refresh interval in seconds
	MinPort            = 1     // Minimum valid port number
	MaxPort            = 65535 // Maximum valid port number
	MaxAPITimeout      = 300   // Cost queries longer than 5 minutes are treated as hung
	MaxRetriesLimit    = 10

	// Default values
	DefaultCurrency        = "R$"
	DefaultRefreshInterval = 3600 // 1 hour in seconds
	DefaultHTTPPort        = 8080
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultAPITimeout      = 60 // billing aggregation queries are slow
	DefaultAPIVersion      = "2021-10-01"
	DefaultEndpoint        = "https://management.azure.com"
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 5 // seconds, multiplied by the attempt number
	DefaultAuthMethod      = AuthMethodCLI
	DefaultAuthResource    = "https://management.azure.com"
	DefaultAuthTimeout     = 30
	DefaultOutputDirectory = "."
	DefaultFilePrefix      = "azure_costs"
	DefaultSheetName       = "Azure Costs"
)

// Supported authentication methods
const (
	AuthMethodCLI      = "cli"
	AuthMethodIdentity = "identity"
)

// DotEnvPath is the .env file consulted before environment overrides are applied
var DotEnvPath = ".env"

// Subscription represents an Azure subscription listed statically in the config file.
// When the list is empty, subscriptions are discovered through the Azure CLI.
type Subscription struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	TenantID string `yaml:"tenant_id"`
}

// AuthConfig selects how per-subscription access tokens are obtained
type AuthConfig struct {
	Method   string `yaml:"method"`   // cli or identity
	Resource string `yaml:"resource"` // token audience
	Timeout  int    `yaml:"timeout"`  // seconds per az invocation
}

// PeriodConfig selects the year-to-date reporting window
type PeriodConfig struct {
	// ThroughMonth is the last month (1-12) included in the YTD window.
	// 0 means the last completed month.
	ThroughMonth int `yaml:"through_month"`
}

// RetryConfig controls the linear backoff applied to rate-limited cost queries
type RetryConfig struct {
	MaxRetries   int `yaml:"max_retries"`   // total attempts per subscription
	DelaySeconds int `yaml:"delay_seconds"` // base delay, multiplied by the attempt number
}

// OutputConfig controls where the workbook is written
type OutputConfig struct {
	Directory  string `yaml:"directory"`
	FilePrefix string `yaml:"file_prefix"`
	SheetName  string `yaml:"sheet_name"`
}

// Config represents the application configuration
type Config struct {
	Subscriptions   []Subscription `yaml:"subscriptions"`
	Auth            AuthConfig     `yaml:"auth"`
	Period          PeriodConfig   `yaml:"period"`
	Retry           RetryConfig    `yaml:"retry"`
	Output          OutputConfig   `yaml:"output"`
	Currency        string         `yaml:"currency"`
	Endpoint        string         `yaml:"endpoint"`
	APIVersion      string         `yaml:"api_version"`
	APITimeout      int            `yaml:"api_timeout"`      // Cost query timeout in seconds
	RefreshInterval int            `yaml:"refresh_interval"` // seconds, serve mode only
	HTTPPort        int            `yaml:"http_port"`
	LogLevel        string         `yaml:"log_level"`
	LogFormat       string         `yaml:"log_format"`
}

// Load loads configuration from an optional YAML file, a .env file in the working
// directory and environment variable overrides, in increasing order of precedence.
// An empty path yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		// #nosec G304 -- Config file path is provided by administrator via CLI flag, not user input
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", DotEnvPath, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment variable error: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration populated only with default values
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// loadDotEnv populates the process environment from DotEnvPath when it exists.
// Variables already set in the environment win.
func loadDotEnv() error {
	if DotEnvPath == "" {
		return nil
	}
	if _, err := os.Stat(DotEnvPath); err != nil {
		return nil
	}
	return godotenv.Load(DotEnvPath)
}

// applyDefaults sets default values for configuration
func applyDefaults(cfg *Config) {
	if cfg.Currency == "" {
		cfg.Currency = DefaultCurrency
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.APITimeout == 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = DefaultMaxRetries
	}
	if cfg.Retry.DelaySeconds == 0 {
		cfg.Retry.DelaySeconds = DefaultRetryDelay
	}
	if cfg.Auth.Method == "" {
		cfg.Auth.Method = DefaultAuthMethod
	}
	if cfg.Auth.Resource == "" {
		cfg.Auth.Resource = DefaultAuthResource
	}
	if cfg.Auth.Timeout == 0 {
		cfg.Auth.Timeout = DefaultAuthTimeout
	}
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = DefaultOutputDirectory
	}
	if cfg.Output.FilePrefix == "" {
		cfg.Output.FilePrefix = DefaultFilePrefix
	}
	if cfg.Output.SheetName == "" {
		cfg.Output.SheetName = DefaultSheetName
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	for i := range cfg.Subscriptions {
		if cfg.Subscriptions[i].Name == "" {
			cfg.Subscriptions[i].Name = cfg.Subscriptions[i].ID
		}
	}
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("AZURE_COST_CURRENCY"); val != "" {
		cfg.Currency = val
	}

	if val := os.Getenv("AZURE_COST_LOG_LEVEL"); val != "" {
		cfg.LogLevel = val
	}

	if val := os.Getenv("AZURE_COST_LOG_FORMAT"); val != "" {
		cfg.LogFormat = val
	}

	if val := os.Getenv("AZURE_COST_AUTH_METHOD"); val != "" {
		cfg.Auth.Method = strings.ToLower(val)
	}

	if val := os.Getenv("AZURE_COST_OUTPUT_DIR"); val != "" {
		cfg.Output.Directory = val
	}

	ints := []struct {
		name   string
		target *int
	}{
		{"AZURE_COST_THROUGH_MONTH", &cfg.Period.ThroughMonth},
		{"AZURE_COST_MAX_RETRIES", &cfg.Retry.MaxRetries},
		{"AZURE_COST_RETRY_DELAY", &cfg.Retry.DelaySeconds},
		{"AZURE_COST_API_TIMEOUT", &cfg.APITimeout},
		{"AZURE_COST_HTTP_PORT", &cfg.HTTPPort},
		{"AZURE_COST_REFRESH_INTERVAL", &cfg.RefreshInterval},
	}
	for _, env := range ints {
		val := os.Getenv(env.name)
		if val == "" {
			continue
		}
		i, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s: must be an integer, got %q", env.name, val)
		}
		*env.target = i
	}

	// Override subscriptions (comma-separated id:name:tenant triples)
	// Example: AZURE_COST_SUBSCRIPTIONS="sub1:prod:tenant-a,sub2:dev:tenant-a"
	if val := os.Getenv("AZURE_COST_SUBSCRIPTIONS"); val != "" {
		subs, err := parseSubscriptions(val)
		if err != nil {
			return fmt.Errorf("invalid AZURE_COST_SUBSCRIPTIONS: %w", err)
		}
		if len(subs) > 0 {
			cfg.Subscriptions = subs
		}
	}

	return nil
}

func parseSubscriptions(val string) ([]Subscription, error) {
	subs := []Subscription{}
	for _, entry := range strings.Split(val, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("entry %q must be id:name:tenant", entry)
		}
		sub := Subscription{
			ID:       strings.TrimSpace(parts[0]),
			Name:     strings.TrimSpace(parts[1]),
			TenantID: strings.TrimSpace(parts[2]),
		}
		if sub.Name == "" {
			sub.Name = sub.ID
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// validate validates the configuration
func validate(cfg *Config) error {
	for i, sub := range cfg.Subscriptions {
		if sub.ID == "" {
			return fmt.Errorf("subscription at index %d has empty ID", i)
		}
		if sub.TenantID == "" {
			return fmt.Errorf("subscription %s has empty tenant_id", sub.ID)
		}
	}

	switch cfg.Auth.Method {
	case AuthMethodCLI, AuthMethodIdentity:
	default:
		return fmt.Errorf("auth.method must be %q or %q, got %q", AuthMethodCLI, AuthMethodIdentity, cfg.Auth.Method)
	}

	if cfg.Auth.Timeout <= 0 {
		return fmt.Errorf("auth.timeout must be positive, got %d", cfg.Auth.Timeout)
	}

	if cfg.Period.ThroughMonth < 0 || cfg.Period.ThroughMonth > 12 {
		return fmt.Errorf("period.through_month must be between 0 and 12, got %d", cfg.Period.ThroughMonth)
	}

	if cfg.Retry.MaxRetries < 1 || cfg.Retry.MaxRetries > MaxRetriesLimit {
		return fmt.Errorf("retry.max_retries must be between 1 and %d, got %d", MaxRetriesLimit, cfg.Retry.MaxRetries)
	}

	if cfg.Retry.DelaySeconds < 0 {
		return fmt.Errorf("retry.delay_seconds cannot be negative, got %d", cfg.Retry.DelaySeconds)
	}

	if cfg.APITimeout <= 0 {
		return fmt.Errorf("api_timeout must be positive, got %d", cfg.APITimeout)
	}

	if cfg.APITimeout > MaxAPITimeout {
		return fmt.Errorf("api_timeout should not exceed %d seconds (5 minutes), got %d", MaxAPITimeout, cfg.APITimeout)
	}

	if !strings.HasPrefix(cfg.Endpoint, "https://") && !strings.HasPrefix(cfg.Endpoint, "http://") {
		return fmt.Errorf("endpoint must be an http(s) URL, got %q", cfg.Endpoint)
	}

	if cfg.RefreshInterval < MinRefreshInterval {
		return fmt.Errorf("refresh_interval must be at least %d seconds", MinRefreshInterval)
	}

	if cfg.HTTPPort < MinPort || cfg.HTTPPort > MaxPort {
		return fmt.Errorf("http_port must be between %d and %d", MinPort, MaxPort)
	}

	return nil
}
