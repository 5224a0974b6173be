// Package config loads the relay's configuration from environment variables
// with a small set of command-line overrides.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "PARLEY_LISTEN_ADDR"
	envVarMode            = "PARLEY_MODE"
	envVarLogFormat       = "PARLEY_LOG_FORMAT"
	envVarLogLevel        = "PARLEY_LOG_LEVEL"
	envVarAllowedOrigins  = "PARLEY_ALLOWED_ORIGINS"
	envVarShutdownTimeout = "PARLEY_SHUTDOWN_TIMEOUT"

	envVarChatHistoryLimit = "PARLEY_CHAT_HISTORY_LIMIT"

	// Gateway WebSocket hardening.
	envVarMaxSocketMessageBytes      = "PARLEY_MAX_SOCKET_MESSAGE_BYTES"
	envVarMaxSocketMessagesPerSecond = "PARLEY_MAX_SOCKET_MESSAGES_PER_SECOND"
	envVarSocketIdleTimeout          = "PARLEY_SOCKET_IDLE_TIMEOUT"
	envVarSocketPingInterval         = "PARLEY_SOCKET_PING_INTERVAL"

	// Remote credential (token) service. When the URL is set it takes
	// precedence over the static ICE server list.
	envVarCredentialServiceURL     = "PARLEY_CREDENTIAL_SERVICE_URL"
	envVarCredentialServiceKey     = "PARLEY_CREDENTIAL_SERVICE_KEY"
	envVarCredentialServiceSecret  = "PARLEY_CREDENTIAL_SERVICE_SECRET"
	envVarCredentialServiceTimeout = "PARLEY_CREDENTIAL_SERVICE_TIMEOUT"

	// coturn TURN REST (ephemeral) credentials for the static provider.
	envVarTURNRESTSharedSecret   = "PARLEY_TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "PARLEY_TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "PARLEY_TURN_REST_USERNAME_PREFIX"
)

const (
	DefaultListenAddr      = "127.0.0.1:3000"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultChatHistoryLimit = 100

	DefaultMaxSocketMessageBytes      = int64(64 * 1024)
	DefaultMaxSocketMessagesPerSecond = 50
	DefaultSocketIdleTimeout          = 60 * time.Second
	DefaultSocketPingInterval         = 20 * time.Second

	DefaultCredentialServiceTimeout = 5 * time.Second

	DefaultTURNRESTTTLSeconds     int64 = 3600
	DefaultTURNRESTUsernamePrefix       = "parley"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

const DefaultMode = ModeDev

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	AllowedOrigins  []string
	ShutdownTimeout time.Duration

	ChatHistoryLimit int

	MaxSocketMessageBytes      int64
	MaxSocketMessagesPerSecond int
	SocketIdleTimeout          time.Duration
	SocketPingInterval         time.Duration

	ICEServers []webrtc.ICEServer

	CredentialServiceURL     string
	CredentialServiceKey     string
	CredentialServiceSecret  string
	CredentialServiceTimeout time.Duration

	TURNRESTSharedSecret   string
	TURNRESTTTLSeconds     int64
	TURNRESTUsernamePrefix string
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

// load is the testable core of Load: env lookup and argv are injected.
func load(lookup func(string) (string, bool), args []string) (Config, error) {
	mode, err := parseMode(envOrDefault(lookup, envVarMode, string(DefaultMode)))
	if err != nil {
		return Config{}, err
	}

	logFormat := envOrDefault(lookup, envVarLogFormat, string(defaultLogFormatForMode(mode)))
	logLevel := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(mode))
	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)

	fs := flag.NewFlagSet("parley-relay", flag.ContinueOnError)
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "TCP listen address")
	fs.StringVar(&logFormat, "log-format", logFormat, "log format (text|json)")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level (debug|info|warn|error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr: listenAddr,
		Mode:       mode,
	}

	cfg.LogFormat, err = parseLogFormat(logFormat)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return Config{}, err
	}

	cfg.AllowedOrigins = splitCommaSeparated(envOrDefault(lookup, envVarAllowedOrigins, ""))

	cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.ChatHistoryLimit, err = envIntOrDefault(lookup, envVarChatHistoryLimit, DefaultChatHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	if cfg.ChatHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarChatHistoryLimit)
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxSocketMessageBytes, int(DefaultMaxSocketMessageBytes))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxSocketMessageBytes = int64(maxBytes)

	cfg.MaxSocketMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxSocketMessagesPerSecond, DefaultMaxSocketMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	cfg.SocketIdleTimeout, err = envDurationOrDefault(lookup, envVarSocketIdleTimeout, DefaultSocketIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SocketPingInterval, err = envDurationOrDefault(lookup, envVarSocketPingInterval, DefaultSocketPingInterval)
	if err != nil {
		return Config{}, err
	}
	if cfg.SocketPingInterval >= cfg.SocketIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", envVarSocketPingInterval, envVarSocketIdleTimeout)
	}

	cfg.CredentialServiceURL = envOrDefault(lookup, envVarCredentialServiceURL, "")
	cfg.CredentialServiceKey = envOrDefault(lookup, envVarCredentialServiceKey, "")
	cfg.CredentialServiceSecret = envOrDefault(lookup, envVarCredentialServiceSecret, "")
	cfg.CredentialServiceTimeout, err = envDurationOrDefault(lookup, envVarCredentialServiceTimeout, DefaultCredentialServiceTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.TURNRESTSharedSecret = envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	ttl, err := envIntOrDefault(lookup, envVarTURNRESTTTLSeconds, int(DefaultTURNRESTTTLSeconds))
	if err != nil {
		return Config{}, err
	}
	cfg.TURNRESTTTLSeconds = int64(ttl)
	cfg.TURNRESTUsernamePrefix = envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	cfg.ICEServers, err = parseICEServersFromValues(
		envOrDefault(lookup, envICEServersJSON, ""),
		envOrDefault(lookup, envStunURLs, ""),
		envOrDefault(lookup, envTurnURLs, ""),
		envOrDefault(lookup, envTurnUsername, ""),
		envOrDefault(lookup, envTurnCredential, ""),
		cfg.TURNRESTSharedSecret != "",
	)
	if err != nil {
		return Config{}, err
	}

	if cfg.CredentialServiceURL == "" && cfg.TURNRESTSharedSecret != "" {
		// TURN REST strips static TURN credentials at issue time, so the list
		// must contain at least one TURN URL for the secret to matter.
		if !anyTURNURL(cfg.ICEServers) {
			return Config{}, fmt.Errorf("%s set but no TURN urls configured", envVarTURNRESTSharedSecret)
		}
	}

	return cfg, nil
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid %s %q (want dev|prod)", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (want text|json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (want debug|info|warn|error)", raw)
	}
}

func defaultLogFormatForMode(mode Mode) LogFormat {
	if mode == ModeProd {
		return LogFormatJSON
	}
	return LogFormatText
}

func defaultLogLevelForMode(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

// NewLogger builds the process logger per the configured format and level.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogFormat == LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}
