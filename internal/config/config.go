package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // IANA zones on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultServerURL      = "https://caldav.icloud.com/"
	DefaultTimezone       = "Local"
	DefaultLogLevel       = "info"
	DefaultRequestTimeout = 30
)

// DefaultConfigFiles are tried in order when no config file is given.
var DefaultConfigFiles = []string{"config_private.json", "config.json"}

// OAuthCredentials represents an OAuth client credentials JSON file in the
// "installed" (desktop) or "web" format.
type OAuthCredentials struct {
	Installed oauthClient `json:"installed"`
	Web       oauthClient `json:"web"`
}

type oauthClient struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AuthURI      string `json:"auth_uri"`
	TokenURI     string `json:"token_uri"`
}

// OAuthClient is the client registration used for the bearer-token login flow.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
}

// LoadOAuthCredentials loads OAuth client credentials from a JSON file.
func LoadOAuthCredentials(path string) (*OAuthClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var creds OAuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}

	// Try "installed" first (for desktop apps), then "web"
	client := creds.Installed
	if client.ClientID == "" {
		client = creds.Web
	}
	if client.ClientID == "" {
		return nil, fmt.Errorf("no client_id found in credentials file (expected 'installed' or 'web' section)")
	}
	if client.AuthURI == "" || client.TokenURI == "" {
		return nil, fmt.Errorf("credentials file must provide auth_uri and token_uri")
	}

	return &OAuthClient{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		AuthURL:      client.AuthURI,
		TokenURL:     client.TokenURI,
	}, nil
}

// CalDAVConfig holds the CalDAV server connection settings.
type CalDAVConfig struct {
	ServerURL string `json:"server_url,omitempty" yaml:"server_url,omitempty"` // e.g. "https://caldav.icloud.com/"
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`     // Apple ID email
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`     // App-specific password

	// Bearer-token authentication for servers that accept OAuth 2.0.
	TokenPath       string   `json:"token_path,omitempty" yaml:"token_path,omitempty"`
	CredentialsPath string   `json:"credentials_path,omitempty" yaml:"credentials_path,omitempty"`
	Scopes          []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// UsesOAuth reports whether bearer tokens are used instead of a password.
func (c CalDAVConfig) UsesOAuth() bool {
	return c.Password == "" && c.TokenPath != ""
}

// Config holds the configuration for the MCP calendar server.
type Config struct {
	CalDAV CalDAVConfig `json:"caldav" yaml:"caldav"`

	DefaultCalendar       string `json:"default_calendar,omitempty" yaml:"default_calendar,omitempty"`
	Timezone              string `json:"timezone,omitempty" yaml:"timezone,omitempty"` // IANA name or "Local"
	LogLevel              string `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	MetricsAddr           string `json:"metrics_addr,omitempty" yaml:"metrics_addr,omitempty"` // e.g. "127.0.0.1:9090"; empty disables
	RequestTimeoutSeconds int    `json:"request_timeout_seconds,omitempty" yaml:"request_timeout_seconds,omitempty"`

	location *time.Location
}

// Location returns the configured timezone. LoadConfig guarantees it is valid.
func (c *Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	loc, err := loadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// RequestTimeout is the deadline applied to each tool call.
func (c *Config) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeout * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

// LoadConfigFromFile loads configuration from a JSON or YAML file, chosen by
// extension.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return &config, nil
}

// FindConfigFile returns the first of DefaultConfigFiles present in dir, or ""
// if there is none.
func FindConfigFile(dir string) string {
	for _, name := range DefaultConfigFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// LoadDotEnv loads variables from a .env file into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration with the following precedence (highest to lowest):
// 1. Command-line flags
// 2. Environment variables
// 3. Config file
// 4. Defaults
// Returns an error if any required value is missing.
func LoadConfig(configFile string, serverURLFlag, usernameFlag, passwordFlag, defaultCalendarFlag, timezoneFlag, logLevelFlag, metricsAddrFlag string) (*Config, error) {
	var config Config

	// Step 1: Load from config file if provided
	if configFile != "" {
		fileConfig, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = *fileConfig
	}

	// Step 2: Override with environment variables
	if serverURL := os.Getenv("CALDAV_SERVER_URL"); serverURL != "" {
		config.CalDAV.ServerURL = serverURL
	}
	if username := os.Getenv("CALDAV_USERNAME"); username != "" {
		config.CalDAV.Username = username
	}
	if password := os.Getenv("CALDAV_PASSWORD"); password != "" {
		config.CalDAV.Password = password
	}
	if tokenPath := os.Getenv("CALDAV_TOKEN_PATH"); tokenPath != "" {
		config.CalDAV.TokenPath = tokenPath
	}
	if defaultCalendar := os.Getenv("DEFAULT_CALENDAR"); defaultCalendar != "" {
		config.DefaultCalendar = defaultCalendar
	}
	if timezone := os.Getenv("TIMEZONE"); timezone != "" {
		config.Timezone = timezone
	}
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
	if metricsAddr := os.Getenv("METRICS_ADDR"); metricsAddr != "" {
		config.MetricsAddr = metricsAddr
	}
	// Request timeout in seconds
	if timeout := os.Getenv("REQUEST_TIMEOUT"); timeout != "" {
		var err error
		if config.RequestTimeoutSeconds, err = parseInt(timeout); err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT value: %w", err)
		}
	}

	// Step 3: Override with command-line flags (highest priority)
	if serverURLFlag != "" {
		config.CalDAV.ServerURL = serverURLFlag
	}
	if usernameFlag != "" {
		config.CalDAV.Username = usernameFlag
	}
	if passwordFlag != "" {
		config.CalDAV.Password = passwordFlag
	}
	if defaultCalendarFlag != "" {
		config.DefaultCalendar = defaultCalendarFlag
	}
	if timezoneFlag != "" {
		config.Timezone = timezoneFlag
	}
	if logLevelFlag != "" {
		config.LogLevel = logLevelFlag
	}
	if metricsAddrFlag != "" {
		config.MetricsAddr = metricsAddrFlag
	}

	// Step 4: Apply defaults and validate required fields
	if config.CalDAV.ServerURL == "" {
		config.CalDAV.ServerURL = DefaultServerURL
	}
	if config.Timezone == "" {
		config.Timezone = DefaultTimezone
	}
	if config.LogLevel == "" {
		config.LogLevel = DefaultLogLevel
	}
	if config.RequestTimeoutSeconds == 0 {
		config.RequestTimeoutSeconds = DefaultRequestTimeout
	}

	if !strings.HasPrefix(config.CalDAV.ServerURL, "http://") && !strings.HasPrefix(config.CalDAV.ServerURL, "https://") {
		return nil, fmt.Errorf("caldav.server_url must be an http(s) URL, got '%s'", config.CalDAV.ServerURL)
	}
	if config.CalDAV.Password == "" && config.CalDAV.TokenPath == "" {
		return nil, fmt.Errorf("caldav.password must be provided via --password flag, CALDAV_PASSWORD environment variable, or config file (or set caldav.token_path for OAuth)")
	}
	if config.CalDAV.Password != "" && config.CalDAV.Username == "" {
		return nil, fmt.Errorf("caldav.username must be provided via --username flag, CALDAV_USERNAME environment variable, or config file")
	}
	if config.RequestTimeoutSeconds < 0 {
		return nil, fmt.Errorf("request_timeout_seconds must not be negative, got %d", config.RequestTimeoutSeconds)
	}
	switch strings.ToLower(config.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return nil, fmt.Errorf("log_level must be one of debug, info, warn, error, got '%s'", config.LogLevel)
	}

	loc, err := loadLocation(config.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", config.Timezone, err)
	}
	config.location = loc

	return &config, nil
}

// parseInt parses a string to an integer.
func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}
