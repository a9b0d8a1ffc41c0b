package domain

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}
	return path
}

// TestLoadConfig_ValidYAML tests loading a valid YAML configuration file.
func TestLoadConfig_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
transport:
  type: http
  http:
    host: 127.0.0.1
    port: 8000
bitrix:
  base_url: https://example.bitrix24.ru/rest
  token: secret
  instance_name: main
  retries: 2
server:
  timezone: Europe/Moscow
  log_level: debug
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil", err)
	}

	if config.Transport.Type != "http" {
		t.Errorf("Transport.Type = %s, want http", config.Transport.Type)
	}
	if config.Transport.HTTP.Port != 8000 {
		t.Errorf("HTTP.Port = %d, want 8000", config.Transport.HTTP.Port)
	}
	if config.Bitrix.Token != "secret" {
		t.Errorf("Bitrix.Token = %s, want secret", config.Bitrix.Token)
	}
	if *config.Bitrix.Retries != 2 {
		t.Errorf("Bitrix.Retries = %d, want 2", *config.Bitrix.Retries)
	}
	if !*config.Bitrix.IncludeAuth {
		t.Error("Bitrix.IncludeAuth = false, want true for a non-webhook base URL")
	}
	if config.Server.Timezone != "Europe/Moscow" {
		t.Errorf("Server.Timezone = %s, want Europe/Moscow", config.Server.Timezone)
	}
}

// TestLoadConfig_Defaults tests that omitted settings get their defaults.
func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
transport:
  type: stdio
bitrix:
  base_url: https://example.bitrix24.ru/rest/1/abcdef
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v, want nil", err)
	}

	if config.Server.Name != DefaultServerName {
		t.Errorf("Server.Name = %s, want %s", config.Server.Name, DefaultServerName)
	}
	if config.Server.Timezone != "UTC" {
		t.Errorf("Server.Timezone = %s, want UTC", config.Server.Timezone)
	}
	if config.Bitrix.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("Bitrix.TimeoutSeconds = %g, want %g", config.Bitrix.TimeoutSeconds, DefaultTimeoutSeconds)
	}
	if !*config.Bitrix.VerifySSL {
		t.Error("Bitrix.VerifySSL = false, want true")
	}
	if *config.Bitrix.Retries != DefaultRetries {
		t.Errorf("Bitrix.Retries = %d, want %d", *config.Bitrix.Retries, DefaultRetries)
	}
	if *config.Bitrix.IncludeAuth {
		t.Error("Bitrix.IncludeAuth = true, want false for an incoming webhook")
	}
	if config.Cache.TTLSeconds != DefaultCacheTTLSeconds {
		t.Errorf("Cache.TTLSeconds = %d, want %d", config.Cache.TTLSeconds, DefaultCacheTTLSeconds)
	}
	if config.GitHub.APIURL != DefaultGitHubAPIURL {
		t.Errorf("GitHub.APIURL = %s, want %s", config.GitHub.APIURL, DefaultGitHubAPIURL)
	}
}

// TestLoadConfig_MissingFile tests error handling when configuration file is missing.
func TestLoadConfig_MissingFile(t *testing.T) {
	config, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("LoadConfig() error = nil, want error for missing file")
	}
	if config != nil {
		t.Errorf("LoadConfig() config = %v, want nil", config)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Error message should mention 'not found', got: %s", err.Error())
	}
}

// TestLoadConfig_InvalidYAMLSyntax tests error handling for invalid YAML syntax.
func TestLoadConfig_InvalidYAMLSyntax(t *testing.T) {
	path := writeConfig(t, "transport:\n  type: [stdio\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() error = nil, want error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "invalid YAML syntax") {
		t.Errorf("Error message should mention invalid YAML syntax, got: %s", err.Error())
	}
}

// TestLoadConfig_ValidationFailure tests that validation errors are surfaced.
func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "transport:\n  type: stdio\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("LoadConfig() error = nil, want validation error")
	}
	if !strings.Contains(err.Error(), "bitrix base_url is required") {
		t.Errorf("Error = %s, want mention of bitrix base_url", err.Error())
	}
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		"BITRIX_BASE_URL":        "https://env.bitrix24.ru/rest",
		"BITRIX_TOKEN":           "env-token",
		"BITRIX_INSTANCE_NAME":   "env",
		"BITRIX_TIMEOUT_SECONDS": "2.5",
		"BITRIX_VERIFY_SSL":      "false",
		"BITRIX_RETRIES":         "5",
		"SERVER_HOST":            "0.0.0.0",
		"SERVER_PORT":            "9000",
		"SERVER_TIMEZONE":        "Asia/Tokyo",
		"SERVER_LOG_LEVEL":       "WARN",
		"GITHUB_RELEASES_REPO":   "acme/bitrix24-mcp",
		"GITHUB_TOKEN":           "gh-token",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	config := &Config{Bitrix: BitrixConfig{BaseURL: "https://file.bitrix24.ru/rest", Token: "file-token"}}
	if err := config.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv() error = %v, want nil", err)
	}

	if config.Bitrix.BaseURL != "https://env.bitrix24.ru/rest" {
		t.Errorf("Bitrix.BaseURL = %s, want the env value", config.Bitrix.BaseURL)
	}
	if config.Bitrix.Token != "env-token" {
		t.Errorf("Bitrix.Token = %s, want env-token", config.Bitrix.Token)
	}
	if config.Bitrix.TimeoutSeconds != 2.5 {
		t.Errorf("Bitrix.TimeoutSeconds = %g, want 2.5", config.Bitrix.TimeoutSeconds)
	}
	if config.Bitrix.VerifySSL == nil || *config.Bitrix.VerifySSL {
		t.Error("Bitrix.VerifySSL should be false")
	}
	if config.Bitrix.Retries == nil || *config.Bitrix.Retries != 5 {
		t.Error("Bitrix.Retries should be 5")
	}
	if config.Transport.HTTP.Host != "0.0.0.0" || config.Transport.HTTP.Port != 9000 {
		t.Errorf("HTTP = %+v, want 0.0.0.0:9000", config.Transport.HTTP)
	}
	if config.Server.LogLevel != "warn" {
		t.Errorf("Server.LogLevel = %s, want warn", config.Server.LogLevel)
	}
	if config.GitHub.ReleasesRepo != "acme/bitrix24-mcp" || config.GitHub.Token != "gh-token" {
		t.Errorf("GitHub = %+v, want env values", config.GitHub)
	}
}

func TestConfig_ApplyEnv_InvalidValues(t *testing.T) {
	env := map[string]string{
		"BITRIX_TIMEOUT_SECONDS": "soon",
		"SERVER_PORT":            "eighty",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	err := (&Config{}).ApplyEnv(lookup)
	if err == nil {
		t.Fatal("ApplyEnv() error = nil, want error")
	}
	for _, want := range []string{"BITRIX_TIMEOUT_SECONDS", "SERVER_PORT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error = %s, want mention of %s", err.Error(), want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	negative := -1
	tooMany := 11

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid stdio config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing transport type",
			mutate:  func(c *Config) { c.Transport.Type = "" },
			wantErr: "transport type is required",
		},
		{
			name:    "unknown transport type",
			mutate:  func(c *Config) { c.Transport.Type = "grpc" },
			wantErr: "invalid transport type 'grpc'",
		},
		{
			name: "http without host",
			mutate: func(c *Config) {
				c.Transport.Type = "http"
				c.Transport.HTTP.Port = 8000
			},
			wantErr: "HTTP host is required",
		},
		{
			name: "http with bad port",
			mutate: func(c *Config) {
				c.Transport.Type = "http"
				c.Transport.HTTP.Host = "localhost"
				c.Transport.HTTP.Port = 70000
			},
			wantErr: "invalid HTTP port 70000",
		},
		{
			name:    "base url scheme",
			mutate:  func(c *Config) { c.Bitrix.BaseURL = "ftp://example.com/rest" },
			wantErr: "http or https scheme",
		},
		{
			name:    "token required for non-webhook",
			mutate:  func(c *Config) { c.Bitrix.Token = "" },
			wantErr: "bitrix token is required",
		},
		{
			name: "webhook without token",
			mutate: func(c *Config) {
				c.Bitrix.BaseURL = "https://example.bitrix24.ru/rest/7/s3cr3t"
				c.Bitrix.Token = ""
			},
		},
		{
			name:    "timeout below one second",
			mutate:  func(c *Config) { c.Bitrix.TimeoutSeconds = 0.5 },
			wantErr: "timeout_seconds must be at least 1",
		},
		{
			name:    "negative retries",
			mutate:  func(c *Config) { c.Bitrix.Retries = &negative },
			wantErr: "retries must be between 0 and 10",
		},
		{
			name:    "too many retries",
			mutate:  func(c *Config) { c.Bitrix.Retries = &tooMany },
			wantErr: "retries must be between 0 and 10",
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Server.Timezone = "Mars/Olympus" },
			wantErr: "Unknown timezone 'Mars/Olympus'",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "trace" },
			wantErr: "invalid log level 'trace'",
		},
		{
			name:    "negative cache ttl",
			mutate:  func(c *Config) { c.Cache.TTLSeconds = -5 },
			wantErr: "cache ttl_seconds must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{
				Transport: TransportConfig{Type: "stdio"},
				Bitrix: BitrixConfig{
					BaseURL: "https://example.bitrix24.ru/rest",
					Token:   "token",
				},
			}
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), "validation errors: ") {
				t.Errorf("Validate() error = %q, want 'validation errors: ' prefix", err.Error())
			}
		})
	}
}

func TestBitrixConfig_Timeout(t *testing.T) {
	bc := BitrixConfig{TimeoutSeconds: 1.5}
	if got := bc.Timeout().Milliseconds(); got != 1500 {
		t.Errorf("Timeout() = %dms, want 1500ms", got)
	}

	cc := CacheConfig{TTLSeconds: 300}
	if got := cc.CacheTTL().Seconds(); got != 300 {
		t.Errorf("CacheTTL() = %gs, want 300s", got)
	}
}
