package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/beekhof/mcp-ical/internal/auth"
	"github.com/beekhof/mcp-ical/internal/calendar"
	"github.com/beekhof/mcp-ical/internal/config"
	"github.com/beekhof/mcp-ical/internal/metrics"
	"github.com/beekhof/mcp-ical/internal/server"
	"github.com/lmittmann/tint"
)

var version = "dev"

func printHelp() {
	fmt.Fprintf(os.Stderr, `mcp-ical

An MCP server that gives language-model clients access to iCloud Calendar
(or any CalDAV server): list calendars, and list, create, update and delete
events. It speaks MCP over stdin/stdout; logs go to stderr.

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help                    Show this help message and exit
    -v, --verbose                 Enable verbose output (show DEBUG logs)
    --version                     Print the version and exit
    --config FILE                 Path to a JSON or YAML config file
                                  (default: config_private.json, then config.json)
    --server-url URL              CalDAV server URL
                                  (overrides config file and CALDAV_SERVER_URL env var)
    --username USER               CalDAV username, your Apple ID for iCloud
                                  (overrides config file and CALDAV_USERNAME env var)
    --password PASSWORD           CalDAV password, an app-specific password for iCloud
                                  (overrides config file and CALDAV_PASSWORD env var)
    --default-calendar NAME       Calendar used by create_event when none is given
                                  (overrides config file and DEFAULT_CALENDAR env var)
    --timezone ZONE               IANA timezone for times given without an offset
                                  (overrides config file and TIMEZONE env var)
    --log-level LEVEL             debug, info, warn or error
                                  (overrides config file and LOG_LEVEL env var)
    --metrics-addr ADDR           Serve Prometheus metrics on ADDR, e.g. 127.0.0.1:9090
                                  (overrides config file and METRICS_ADDR env var)
    --login                       Run the OAuth login flow, store the token and exit
    --no-browser                  With --login, paste the authorization code instead
                                  of receiving it on a local callback server
    --oauth-credentials PATH      OAuth client credentials JSON file
                                  (overrides caldav.credentials_path in the config file)

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (a .env file in the working directory is loaded first)
    3. Config file
    4. Defaults

CONFIG FILE:
    {
      "caldav": {
        "server_url": "https://caldav.icloud.com/",
        "username": "your_apple_id@icloud.com",
        "password": "your_app_specific_password"
      },
      "default_calendar": "Personal",
      "timezone": "Europe/Berlin",
      "log_level": "info",
      "metrics_addr": "",
      "request_timeout_seconds": 30
    }

    For iCloud you need an app-specific password.
    Generate one at: https://appleid.apple.com/account/manage

    CalDAV servers that accept OAuth 2.0 bearer tokens can be used by setting
    caldav.token_path (and caldav.credentials_path for token refresh) instead of
    a password, then running once with --login.

ENVIRONMENT VARIABLES:
    CALDAV_SERVER_URL         CalDAV server URL (default: https://caldav.icloud.com/)
    CALDAV_USERNAME           CalDAV username
    CALDAV_PASSWORD           CalDAV password
    CALDAV_TOKEN_PATH         Path of the stored OAuth token
    DEFAULT_CALENDAR          Calendar used when create_event names none
    TIMEZONE                  IANA timezone (default: Local)
    LOG_LEVEL                 Log level (default: info)
    METRICS_ADDR              Address for the metrics endpoint (default: disabled)
    REQUEST_TIMEOUT           Per-call timeout in seconds (default: 30)

TOOLS:
    list_calendars, list_events, get_event, create_event, update_event,
    delete_event, debug_calendar_connection, and the calendars://list resource.

    Every create, update and delete is read back from the server before it is
    reported as successful.

EXAMPLES:
    # Run with config_private.json from the working directory
    %s

    # Run with credentials from the environment
    CALDAV_USERNAME=me@icloud.com CALDAV_PASSWORD=abcd-efgh-ijkl-mnop %s

    # Log every stage of every mutation
    %s --verbose

    # Store an OAuth token for a bearer-token CalDAV server
    %s --config config.yaml --login --oauth-credentials credentials.json

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
	}))
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose output (show DEBUG logs)")
	verboseFlagShort := flag.Bool("v", false, "Enable verbose output (shorthand)")
	versionFlag := flag.Bool("version", false, "Print the version and exit")
	configFile := flag.String("config", "", "Path to a JSON or YAML config file")
	serverURL := flag.String("server-url", "", "CalDAV server URL (overrides config file and CALDAV_SERVER_URL env var)")
	username := flag.String("username", "", "CalDAV username (overrides config file and CALDAV_USERNAME env var)")
	password := flag.String("password", "", "CalDAV password (overrides config file and CALDAV_PASSWORD env var)")
	defaultCalendar := flag.String("default-calendar", "", "Default calendar for new events (overrides config file and DEFAULT_CALENDAR env var)")
	timezone := flag.String("timezone", "", "IANA timezone (overrides config file and TIMEZONE env var)")
	logLevel := flag.String("log-level", "", "Log level (overrides config file and LOG_LEVEL env var)")
	metricsAddr := flag.String("metrics-addr", "", "Metrics listen address (overrides config file and METRICS_ADDR env var)")
	loginFlag := flag.Bool("login", false, "Run the OAuth login flow and exit")
	noBrowser := flag.Bool("no-browser", false, "With --login, read the authorization code from stdin")
	oauthCredentials := flag.String("oauth-credentials", "", "OAuth client credentials JSON file")
	flag.Parse()

	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println(version)
		os.Exit(0)
	}

	// Until the config is loaded, log at info
	logger := newLogger(slog.LevelInfo)

	if err := config.LoadDotEnv(".env"); err != nil {
		logger.Error("Failed to load .env", "error", err)
		os.Exit(1)
	}

	path := *configFile
	if path == "" {
		path = config.FindConfigFile(".")
	}
	cfg, err := config.LoadConfig(path, *serverURL, *username, *password, *defaultCalendar, *timezone, *logLevel, *metricsAddr)
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		fmt.Fprintln(os.Stderr, "Use --help for more information.")
		os.Exit(1)
	}
	if *oauthCredentials != "" {
		cfg.CalDAV.CredentialsPath = *oauthCredentials
	}

	level := parseLevel(cfg.LogLevel)
	if *verboseFlag || *verboseFlagShort {
		level = slog.LevelDebug
	}
	logger = newLogger(level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *loginFlag {
		if err := login(ctx, cfg, *noBrowser); err != nil {
			logger.Error("Login failed", "error", err)
			os.Exit(1)
		}
		logger.Info("Token stored", "path", cfg.CalDAV.TokenPath)
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
}

func login(ctx context.Context, cfg *config.Config, noBrowser bool) error {
	if cfg.CalDAV.TokenPath == "" {
		return errors.New("caldav.token_path must be set to store the OAuth token")
	}
	oauthConfig, err := auth.OAuthConfig(cfg.CalDAV)
	if err != nil {
		return err
	}
	tokenStore := auth.NewFileTokenStore(cfg.CalDAV.TokenPath)
	if noBrowser {
		_, err = auth.LoginWithReader(ctx, oauthConfig, tokenStore, os.Stdin)
	} else {
		_, err = auth.Login(ctx, oauthConfig, tokenStore)
	}
	return err
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	httpClient, err := auth.NewCalDAVHTTPClient(ctx, cfg.CalDAV, cfg.RequestTimeout())
	if err != nil {
		return fmt.Errorf("failed to create CalDAV client: %w", err)
	}

	store, err := calendar.NewCalDAVStore(httpClient, cfg.CalDAV.ServerURL, cfg.Location(), logger)
	if err != nil {
		return fmt.Errorf("failed to create CalDAV store: %w", err)
	}
	manager := calendar.NewManager(store, cfg.DefaultCalendar, logger)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("Metrics endpoint failed", "error", err)
			}
		}()
	}

	srv := server.New(manager, server.Options{
		Name:     "mcp-ical",
		Version:  version,
		Timeout:  cfg.RequestTimeout(),
		Location: cfg.Location(),
	}, logger)

	logger.Info("Running mcp-ical server",
		"server_url", cfg.CalDAV.ServerURL,
		"default_calendar", cfg.DefaultCalendar,
		"timezone", cfg.Location().String(),
		"oauth", cfg.CalDAV.UsesOAuth(),
	)
	return srv.ServeStdio()
}
