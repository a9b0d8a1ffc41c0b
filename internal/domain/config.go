package domain

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
// This is the root configuration structure loaded from YAML files.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Bitrix    BitrixConfig    `yaml:"bitrix"`
	Server    ServerConfig    `yaml:"server"`
	Cache     CacheConfig     `yaml:"cache"`
	Docs      DocsConfig      `yaml:"docs"`
	GitHub    GitHubConfig    `yaml:"github"`
}

// TransportConfig defines transport settings.
// Specifies whether to use stdio or HTTP transport.
type TransportConfig struct {
	Type string     `yaml:"type"` // "stdio" or "http"
	HTTP HTTPConfig `yaml:"http,omitempty"`
}

// HTTPConfig defines HTTP transport settings.
// Only used when transport type is "http".
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// BitrixConfig describes the upstream Bitrix24 REST endpoint.
type BitrixConfig struct {
	BaseURL        string  `yaml:"base_url"`
	Token          string  `yaml:"token,omitempty"`
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	VerifySSL      *bool   `yaml:"verify_ssl,omitempty"`
	Retries        *int    `yaml:"retries,omitempty"`
	InstanceName   string  `yaml:"instance_name,omitempty"`
	// IncludeAuth controls whether the token is attached to every payload.
	// When unset it defaults to true unless BaseURL is an incoming webhook.
	IncludeAuth *bool `yaml:"include_auth,omitempty"`
}

// ServerConfig holds process-level settings.
type ServerConfig struct {
	Name     string `yaml:"name,omitempty"`
	Version  string `yaml:"version,omitempty"`
	Timezone string `yaml:"timezone,omitempty"`
	LogLevel string `yaml:"log_level,omitempty"`
}

// CacheConfig bounds the in-memory caches.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds,omitempty"`
	MaxEntries int `yaml:"max_entries,omitempty"`
	MaxUsers   int `yaml:"max_users,omitempty"`
}

// DocsConfig points at an optional documentation bundle overriding the embedded one.
type DocsConfig struct {
	Path string `yaml:"path,omitempty"`
}

// GitHubConfig enables the GitHub-backed release history.
type GitHubConfig struct {
	ReleasesRepo    string  `yaml:"releases_repo,omitempty"`
	Token           string  `yaml:"token,omitempty"`
	APIURL          string  `yaml:"api_url,omitempty"`
	TimeoutSeconds  float64 `yaml:"timeout_seconds,omitempty"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds,omitempty"`
}

// Default values applied by ApplyDefaults.
const (
	DefaultServerName        = "bitrix24-mcp-server"
	DefaultServerVersion     = "0.2.0"
	DefaultTimezone          = "UTC"
	DefaultLogLevel          = "info"
	DefaultTimeoutSeconds    = 10.0
	DefaultRetries           = 3
	DefaultCacheTTLSeconds   = 300
	DefaultCacheMaxEntries   = 1024
	DefaultCacheMaxUsers     = 4096
	DefaultGitHubAPIURL      = "https://api.github.com"
	DefaultGitHubCacheTTL    = 600
	DefaultGitHubTimeoutSecs = 10.0
)

// LoadConfig reads and validates configuration from a YAML file.
// Environment variables override values found in the file.
// Returns an error if the file is missing, has invalid syntax, or fails validation.
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	// Parse YAML
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid YAML syntax in configuration file: %w", err)
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}
	config.ApplyDefaults()

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// ApplyEnv overrides configuration values from the environment.
// lookup has the signature of os.LookupEnv so tests can inject a fake environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errors []string

	if v, ok := lookup("BITRIX_BASE_URL"); ok {
		c.Bitrix.BaseURL = v
	}
	if v, ok := lookup("BITRIX_TOKEN"); ok {
		c.Bitrix.Token = v
	}
	if v, ok := lookup("BITRIX_INSTANCE_NAME"); ok {
		c.Bitrix.InstanceName = v
	}
	if v, ok := lookup("BITRIX_TIMEOUT_SECONDS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errors = append(errors, fmt.Sprintf("BITRIX_TIMEOUT_SECONDS must be a number, got %q", v))
		} else {
			c.Bitrix.TimeoutSeconds = f
		}
	}
	if v, ok := lookup("BITRIX_VERIFY_SSL"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errors = append(errors, fmt.Sprintf("BITRIX_VERIFY_SSL must be a boolean, got %q", v))
		} else {
			c.Bitrix.VerifySSL = &b
		}
	}
	if v, ok := lookup("BITRIX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errors = append(errors, fmt.Sprintf("BITRIX_RETRIES must be an integer, got %q", v))
		} else {
			c.Bitrix.Retries = &n
		}
	}
	if v, ok := lookup("SERVER_HOST"); ok {
		c.Transport.HTTP.Host = v
	}
	if v, ok := lookup("SERVER_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errors = append(errors, fmt.Sprintf("SERVER_PORT must be an integer, got %q", v))
		} else {
			c.Transport.HTTP.Port = n
		}
	}
	if v, ok := lookup("SERVER_TIMEZONE"); ok {
		c.Server.Timezone = v
	}
	if v, ok := lookup("SERVER_LOG_LEVEL"); ok {
		c.Server.LogLevel = strings.ToLower(v)
	}
	if v, ok := lookup("GITHUB_RELEASES_REPO"); ok {
		c.GitHub.ReleasesRepo = v
	}
	if v, ok := lookup("GITHUB_TOKEN"); ok {
		c.GitHub.Token = v
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}
	return nil
}

// ApplyDefaults fills zero values with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = DefaultServerName
	}
	if c.Server.Version == "" {
		c.Server.Version = DefaultServerVersion
	}
	if c.Server.Timezone == "" {
		c.Server.Timezone = DefaultTimezone
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = DefaultLogLevel
	}
	if c.Bitrix.TimeoutSeconds == 0 {
		c.Bitrix.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Bitrix.VerifySSL == nil {
		verify := true
		c.Bitrix.VerifySSL = &verify
	}
	if c.Bitrix.Retries == nil {
		retries := DefaultRetries
		c.Bitrix.Retries = &retries
	}
	if c.Bitrix.IncludeAuth == nil {
		include := !IsIncomingWebhookBaseURL(c.Bitrix.BaseURL)
		c.Bitrix.IncludeAuth = &include
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = DefaultCacheTTLSeconds
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.Cache.MaxUsers == 0 {
		c.Cache.MaxUsers = DefaultCacheMaxUsers
	}
	if c.GitHub.APIURL == "" {
		c.GitHub.APIURL = DefaultGitHubAPIURL
	}
	if c.GitHub.TimeoutSeconds == 0 {
		c.GitHub.TimeoutSeconds = DefaultGitHubTimeoutSecs
	}
	if c.GitHub.CacheTTLSeconds == 0 {
		c.GitHub.CacheTTLSeconds = DefaultGitHubCacheTTL
	}
}

// Validate checks the configuration for completeness and correctness.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errors []string

	// Validate transport configuration
	if err := c.validateTransport(); err != nil {
		errors = append(errors, err.Error())
	}

	// Validate upstream configuration
	if err := c.Bitrix.Validate(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateServer(); err != nil {
		errors = append(errors, err.Error())
	}

	if c.Cache.TTLSeconds < 0 {
		errors = append(errors, fmt.Sprintf("cache ttl_seconds must not be negative, got %d", c.Cache.TTLSeconds))
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxUsers < 0 {
		errors = append(errors, "cache max_entries and max_users must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("validation errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

// validateTransport validates the transport configuration.
func (c *Config) validateTransport() error {
	var errors []string

	// Check transport type is specified
	if c.Transport.Type == "" {
		errors = append(errors, "transport type is required")
	} else if c.Transport.Type != "stdio" && c.Transport.Type != "http" {
		errors = append(errors, fmt.Sprintf("invalid transport type '%s': must be 'stdio' or 'http'", c.Transport.Type))
	}

	// If HTTP transport, validate HTTP configuration
	if c.Transport.Type == "http" {
		if c.Transport.HTTP.Host == "" {
			errors = append(errors, "HTTP host is required when transport type is 'http'")
		}
		if c.Transport.HTTP.Port <= 0 || c.Transport.HTTP.Port > 65535 {
			errors = append(errors, fmt.Sprintf("invalid HTTP port %d: must be between 1 and 65535", c.Transport.HTTP.Port))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// validateServer validates timezone and log level.
func (c *Config) validateServer() error {
	var errors []string

	if _, err := ResolveTimezone(c.Server.Timezone); err != nil {
		errors = append(errors, err.Error())
	}

	switch c.Server.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.Server.LogLevel))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}
	return nil
}

// Validate validates the Bitrix24 endpoint configuration.
func (bc *BitrixConfig) Validate() error {
	var errors []string

	// Check base URL is specified
	if bc.BaseURL == "" {
		errors = append(errors, "bitrix base_url is required")
	} else {
		// Validate URL format
		parsedURL, err := url.Parse(bc.BaseURL)
		if err != nil {
			errors = append(errors, fmt.Sprintf("bitrix base_url is invalid: %v", err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, "bitrix base_url must use http or https scheme")
		} else if parsedURL.Host == "" {
			errors = append(errors, "bitrix base_url must include a host")
		}
	}

	// Incoming webhooks carry their secret in the URL path
	if bc.Token == "" && !IsIncomingWebhookBaseURL(bc.BaseURL) {
		errors = append(errors, "bitrix token is required unless base_url is an incoming webhook")
	}

	if bc.TimeoutSeconds != 0 && bc.TimeoutSeconds < 1 {
		errors = append(errors, fmt.Sprintf("bitrix timeout_seconds must be at least 1, got %g", bc.TimeoutSeconds))
	}

	if bc.Retries != nil && (*bc.Retries < 0 || *bc.Retries > 10) {
		errors = append(errors, fmt.Sprintf("bitrix retries must be between 0 and 10, got %d", *bc.Retries))
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// Timeout returns the upstream timeout as a duration.
func (bc *BitrixConfig) Timeout() time.Duration {
	return time.Duration(bc.TimeoutSeconds * float64(time.Second))
}

// CacheTTL returns the query cache TTL as a duration.
func (cc *CacheConfig) CacheTTL() time.Duration {
	return time.Duration(cc.TTLSeconds) * time.Second
}
