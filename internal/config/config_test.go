package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv unsets every variable LoadConfig reads, restoring them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CALDAV_SERVER_URL", "CALDAV_USERNAME", "CALDAV_PASSWORD", "CALDAV_TOKEN_PATH",
		"DEFAULT_CALENDAR", "TIMEZONE", "LOG_LEVEL", "METRICS_ADDR", "REQUEST_TIMEOUT",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALDAV_USERNAME", "user@icloud.com")
	t.Setenv("CALDAV_PASSWORD", "abcd-efgh-ijkl-mnop")
	t.Setenv("DEFAULT_CALENDAR", "Personal")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("REQUEST_TIMEOUT", "45")

	// Test loading from environment variables (empty flags and no config file)
	config, err := LoadConfig("", "", "", "", "", "", "", "")
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.CalDAV.Username != "user@icloud.com" {
		t.Errorf("Expected Username to be 'user@icloud.com', got '%s'", config.CalDAV.Username)
	}

	if config.CalDAV.Password != "abcd-efgh-ijkl-mnop" {
		t.Errorf("Expected Password from env, got '%s'", config.CalDAV.Password)
	}

	if config.DefaultCalendar != "Personal" {
		t.Errorf("Expected DefaultCalendar to be 'Personal', got '%s'", config.DefaultCalendar)
	}

	if config.Location() != time.UTC {
		t.Errorf("Expected Location to be UTC, got %v", config.Location())
	}

	if config.RequestTimeout() != 45*time.Second {
		t.Errorf("Expected RequestTimeout to be 45s, got %v", config.RequestTimeout())
	}
}

func TestLoadConfig_CommandLineFlags(t *testing.T) {
	// Test that command-line flags override environment variables
	clearEnv(t)
	t.Setenv("CALDAV_SERVER_URL", "https://env.example.com/")
	t.Setenv("CALDAV_USERNAME", "env-user")
	t.Setenv("CALDAV_PASSWORD", "env-password")
	t.Setenv("LOG_LEVEL", "info")

	// Provide flags that should override env vars
	config, err := LoadConfig("", "https://flag.example.com/", "flag-user", "flag-password", "Work", "Europe/Paris", "debug", "127.0.0.1:9090")
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.CalDAV.ServerURL != "https://flag.example.com/" {
		t.Errorf("Expected ServerURL to be 'https://flag.example.com/', got '%s'", config.CalDAV.ServerURL)
	}

	if config.CalDAV.Username != "flag-user" {
		t.Errorf("Expected Username to be 'flag-user', got '%s'", config.CalDAV.Username)
	}

	if config.CalDAV.Password != "flag-password" {
		t.Errorf("Expected Password to be 'flag-password', got '%s'", config.CalDAV.Password)
	}

	if config.DefaultCalendar != "Work" {
		t.Errorf("Expected DefaultCalendar to be 'Work', got '%s'", config.DefaultCalendar)
	}

	if config.LogLevel != "debug" {
		t.Errorf("Expected LogLevel to be 'debug', got '%s'", config.LogLevel)
	}

	if config.MetricsAddr != "127.0.0.1:9090" {
		t.Errorf("Expected MetricsAddr to be '127.0.0.1:9090', got '%s'", config.MetricsAddr)
	}

	if config.Location().String() != "Europe/Paris" {
		t.Errorf("Expected Location to be 'Europe/Paris', got '%s'", config.Location())
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALDAV_USERNAME", "user@icloud.com")
	t.Setenv("CALDAV_PASSWORD", "secret")

	config, err := LoadConfig("", "", "", "", "", "", "", "")
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.CalDAV.ServerURL != DefaultServerURL {
		t.Errorf("Expected ServerURL to default to '%s', got '%s'", DefaultServerURL, config.CalDAV.ServerURL)
	}

	if config.Timezone != "Local" {
		t.Errorf("Expected Timezone to default to 'Local', got '%s'", config.Timezone)
	}

	if config.Location() != time.Local {
		t.Errorf("Expected Location to be time.Local, got %v", config.Location())
	}

	if config.LogLevel != "info" {
		t.Errorf("Expected LogLevel to default to 'info', got '%s'", config.LogLevel)
	}

	if config.RequestTimeout() != 30*time.Second {
		t.Errorf("Expected RequestTimeout to default to 30s, got %v", config.RequestTimeout())
	}

	if config.MetricsAddr != "" {
		t.Errorf("Expected MetricsAddr to be empty by default, got '%s'", config.MetricsAddr)
	}
}

func TestLoadConfig_ConfigFile(t *testing.T) {
	clearEnv(t)

	// Create a temporary config file
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")

	configJSON := `{
		"caldav": {
			"server_url": "https://caldav.example.com/",
			"username": "config-user",
			"password": "config-password"
		},
		"default_calendar": "Config Calendar",
		"timezone": "America/New_York",
		"request_timeout_seconds": 10
	}`

	if err := os.WriteFile(configPath, []byte(configJSON), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Load config from file
	config, err := LoadConfig(configPath, "", "", "", "", "", "", "")
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.CalDAV.ServerURL != "https://caldav.example.com/" {
		t.Errorf("Expected ServerURL from config file, got '%s'", config.CalDAV.ServerURL)
	}

	if config.CalDAV.Username != "config-user" {
		t.Errorf("Expected Username to be 'config-user', got '%s'", config.CalDAV.Username)
	}

	if config.DefaultCalendar != "Config Calendar" {
		t.Errorf("Expected DefaultCalendar to be 'Config Calendar', got '%s'", config.DefaultCalendar)
	}

	if config.RequestTimeout() != 10*time.Second {
		t.Errorf("Expected RequestTimeout to be 10s, got %v", config.RequestTimeout())
	}
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	clearEnv(t)

	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.yaml")

	configYAML := `caldav:
  username: yaml-user
  password: yaml-password
default_calendar: Home
log_level: warn
metrics_addr: ":9100"
`

	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := LoadConfig(configPath, "", "", "", "", "", "", "")
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if config.CalDAV.Username != "yaml-user" {
		t.Errorf("Expected Username to be 'yaml-user', got '%s'", config.CalDAV.Username)
	}

	if config.DefaultCalendar != "Home" {
		t.Errorf("Expected DefaultCalendar to be 'Home', got '%s'", config.DefaultCalendar)
	}

	if config.LogLevel != "warn" {
		t.Errorf("Expected LogLevel to be 'warn', got '%s'", config.LogLevel)
	}

	if config.MetricsAddr != ":9100" {
		t.Errorf("Expected MetricsAddr to be ':9100', got '%s'", config.MetricsAddr)
	}
}

func TestLoadConfig_EnvVarsOverrideConfigFile(t *testing.T) {
	clearEnv(t)

	// Create a temporary config file
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "config.json")

	configJSON := `{
		"caldav": {"username": "config-user", "password": "config-password"},
		"default_calendar": "Config Calendar"
	}`

	if err := os.WriteFile(configPath, []byte(configJSON), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Set environment variable that should override config file
	t.Setenv("DEFAULT_CALENDAR", "Env Calendar")

	// Load config - env var should override config file
	config, err := LoadConfig(configPath, "", "", "", "", "", "", "")
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	// These should come from config file
	if config.CalDAV.Username != "config-user" {
		t.Errorf("Expected Username from config file, got '%s'", config.CalDAV.Username)
	}

	// This should be overridden by environment variable
	if config.DefaultCalendar != "Env Calendar" {
		t.Errorf("Expected DefaultCalendar to be overridden by env var 'Env Calendar', got '%s'", config.DefaultCalendar)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	clearEnv(t)

	// Try to load config without setting any credentials
	config, err := LoadConfig("", "", "", "", "", "", "", "")
	if err == nil {
		t.Error("LoadConfig() should have returned an error when credentials are missing")
	}
	if config != nil {
		t.Error("LoadConfig() should have returned nil config when there's an error")
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing username", map[string]string{"CALDAV_PASSWORD": "secret"}},
		{"bad timezone", map[string]string{"CALDAV_USERNAME": "u", "CALDAV_PASSWORD": "p", "TIMEZONE": "Mars/Olympus"}},
		{"bad log level", map[string]string{"CALDAV_USERNAME": "u", "CALDAV_PASSWORD": "p", "LOG_LEVEL": "loud"}},
		{"bad timeout", map[string]string{"CALDAV_USERNAME": "u", "CALDAV_PASSWORD": "p", "REQUEST_TIMEOUT": "soon"}},
		{"bad server url", map[string]string{"CALDAV_USERNAME": "u", "CALDAV_PASSWORD": "p", "CALDAV_SERVER_URL": "caldav.icloud.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadConfig("", "", "", "", "", "", "", ""); err == nil {
				t.Error("LoadConfig() should have returned an error")
			}
		})
	}
}

func TestLoadConfig_OAuthTokenPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALDAV_TOKEN_PATH", "/tmp/caldav_token.json")

	config, err := LoadConfig("", "", "", "", "", "", "", "")
	if err != nil {
		t.Fatalf("LoadConfig() returned an error: %v", err)
	}

	if !config.CalDAV.UsesOAuth() {
		t.Error("Expected UsesOAuth() to be true when only a token path is set")
	}
}

func TestFindConfigFile(t *testing.T) {
	tempDir := t.TempDir()

	if got := FindConfigFile(tempDir); got != "" {
		t.Errorf("Expected no config file, got '%s'", got)
	}

	publicPath := filepath.Join(tempDir, "config.json")
	if err := os.WriteFile(publicPath, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if got := FindConfigFile(tempDir); got != publicPath {
		t.Errorf("Expected '%s', got '%s'", publicPath, got)
	}

	// config_private.json takes priority
	privatePath := filepath.Join(tempDir, "config_private.json")
	if err := os.WriteFile(privatePath, []byte(`{}`), 0600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if got := FindConfigFile(tempDir); got != privatePath {
		t.Errorf("Expected '%s', got '%s'", privatePath, got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("DEFAULT_CALENDAR")

	tempDir := t.TempDir()
	envPath := filepath.Join(tempDir, ".env")
	if err := os.WriteFile(envPath, []byte("DEFAULT_CALENDAR=From Dotenv\n"), 0600); err != nil {
		t.Fatalf("Failed to write .env file: %v", err)
	}

	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv() returned an error: %v", err)
	}
	if got := os.Getenv("DEFAULT_CALENDAR"); got != "From Dotenv" {
		t.Errorf("Expected DEFAULT_CALENDAR to be 'From Dotenv', got '%s'", got)
	}

	// A missing file is not an error
	if err := LoadDotEnv(filepath.Join(tempDir, "missing.env")); err != nil {
		t.Errorf("LoadDotEnv() should ignore a missing file, got: %v", err)
	}
}

func TestLoadOAuthCredentials_Installed(t *testing.T) {
	// Create a temporary credentials file with "installed" format
	tempDir := t.TempDir()
	credsPath := filepath.Join(tempDir, "credentials.json")

	credsJSON := `{
		"installed": {
			"client_id": "test-client-id",
			"client_secret": "test-client-secret",
			"auth_uri": "https://auth.example.com/authorize",
			"token_uri": "https://auth.example.com/token"
		}
	}`

	if err := os.WriteFile(credsPath, []byte(credsJSON), 0644); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}

	client, err := LoadOAuthCredentials(credsPath)
	if err != nil {
		t.Fatalf("LoadOAuthCredentials() returned an error: %v", err)
	}

	if client.ClientID != "test-client-id" {
		t.Errorf("Expected ClientID to be 'test-client-id', got '%s'", client.ClientID)
	}

	if client.ClientSecret != "test-client-secret" {
		t.Errorf("Expected ClientSecret to be 'test-client-secret', got '%s'", client.ClientSecret)
	}

	if client.TokenURL != "https://auth.example.com/token" {
		t.Errorf("Expected TokenURL to be 'https://auth.example.com/token', got '%s'", client.TokenURL)
	}
}

func TestLoadOAuthCredentials_Web(t *testing.T) {
	// Create a temporary credentials file with "web" format
	tempDir := t.TempDir()
	credsPath := filepath.Join(tempDir, "credentials.json")

	credsJSON := `{
		"web": {
			"client_id": "web-client-id",
			"client_secret": "web-client-secret",
			"auth_uri": "https://auth.example.com/authorize",
			"token_uri": "https://auth.example.com/token"
		}
	}`

	if err := os.WriteFile(credsPath, []byte(credsJSON), 0644); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}

	client, err := LoadOAuthCredentials(credsPath)
	if err != nil {
		t.Fatalf("LoadOAuthCredentials() returned an error: %v", err)
	}

	if client.ClientID != "web-client-id" {
		t.Errorf("Expected ClientID to be 'web-client-id', got '%s'", client.ClientID)
	}

	if client.AuthURL != "https://auth.example.com/authorize" {
		t.Errorf("Expected AuthURL to be 'https://auth.example.com/authorize', got '%s'", client.AuthURL)
	}
}

func TestLoadOAuthCredentials_MissingEndpoints(t *testing.T) {
	tempDir := t.TempDir()
	credsPath := filepath.Join(tempDir, "credentials.json")

	if err := os.WriteFile(credsPath, []byte(`{"installed": {"client_id": "id"}}`), 0644); err != nil {
		t.Fatalf("Failed to write credentials file: %v", err)
	}

	if _, err := LoadOAuthCredentials(credsPath); err == nil {
		t.Error("LoadOAuthCredentials() should have returned an error without auth_uri/token_uri")
	}
}
