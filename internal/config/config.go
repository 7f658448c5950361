package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"windmon/internal/wind/locator"
)

const (
	WatchPoll   = "poll"
	WatchNotify = "notify"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	// Debug turns on per-line diagnostics in the tail engine.
	Debug    bool
	HTTPAddr string

	// LogDir is the absolute path of the directory holding serial logs.
	LogDir       string
	LogPattern   string
	PollInterval time.Duration
	ErrorBackoff time.Duration
	WatchMode    string
	// RawLogDir is served at /logs/{filename}.
	RawLogDir string

	LedgerEnabled   bool
	SQLitePath      string
	SQLiteDSN       string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	MQTTEnabled     bool
	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTQueueSize   int
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	debug, err := envBool("DEBUG", false)
	if err != nil {
		return Config{}, err
	}

	defaultLevel := "info"
	if debug {
		defaultLevel = "debug"
	}
	level, err := parseLogLevel(env("LOG_LEVEL", defaultLevel))
	if err != nil {
		return Config{}, err
	}

	logDir, err := filepath.Abs(env("WIND_LOG_DIR", "logs"))
	if err != nil {
		return Config{}, fmt.Errorf("WIND_LOG_DIR: %w", err)
	}
	pattern := env("WIND_LOG_PATTERN", locator.DefaultPattern)
	if err := locator.ValidatePattern(pattern); err != nil {
		return Config{}, fmt.Errorf("invalid WIND_LOG_PATTERN: %w", err)
	}

	pollInterval, err := envPositiveDuration("POLL_INTERVAL", "1s")
	if err != nil {
		return Config{}, err
	}
	errorBackoff, err := envPositiveDuration("ERROR_BACKOFF", "2s")
	if err != nil {
		return Config{}, err
	}

	watchMode := strings.ToLower(env("WATCH_MODE", WatchPoll))
	switch watchMode {
	case WatchPoll, WatchNotify:
	default:
		return Config{}, fmt.Errorf("invalid WATCH_MODE %q (allowed: poll, notify)", watchMode)
	}

	rawLogDir, err := filepath.Abs(env("RAW_LOG_DIR", "logs"))
	if err != nil {
		return Config{}, fmt.Errorf("RAW_LOG_DIR: %w", err)
	}

	ledgerEnabled, err := envBool("LEDGER_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", 1)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := time.ParseDuration(env("DB_CONN_MAX_LIFETIME", "0s"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", os.Getenv("DB_CONN_MAX_LIFETIME"), err)
	}

	mqttEnabled, err := envBool("MQTT_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %d (allowed: 1-65535)", mqttPort)
	}
	queueSize, err := envInt("MQTT_QUEUE_SIZE", 256)
	if err != nil {
		return Config{}, err
	}
	if queueSize <= 0 {
		return Config{}, fmt.Errorf("invalid MQTT_QUEUE_SIZE %d (must be > 0)", queueSize)
	}
	topicPrefix := strings.Trim(env("MQTT_TOPIC_PREFIX", "anemometers"), "/")
	if topicPrefix == "" || strings.ContainsAny(topicPrefix, "#+") {
		return Config{}, fmt.Errorf("invalid MQTT_TOPIC_PREFIX %q", os.Getenv("MQTT_TOPIC_PREFIX"))
	}

	return Config{
		AppEnv:       appEnv,
		LogLevel:     level,
		Debug:        debug,
		HTTPAddr:     env("HTTP_ADDR", ":5000"),
		LogDir:       logDir,
		LogPattern:   pattern,
		PollInterval: pollInterval,
		ErrorBackoff: errorBackoff,
		WatchMode:    watchMode,
		RawLogDir:    rawLogDir,

		LedgerEnabled:   ledgerEnabled,
		SQLitePath:      env("SQLITE_PATH", "data/windmon.db"),
		SQLiteDSN:       env("DB_DSN", ""),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,

		MQTTEnabled:     mqttEnabled,
		MQTTBroker:      env("MQTT_BROKER", "localhost"),
		MQTTPort:        mqttPort,
		MQTTClientID:    env("MQTT_CLIENT_ID", "windmon"),
		MQTTTopicPrefix: topicPrefix,
		MQTTQueueSize:   queueSize,
	}, nil
}

// env returns the trimmed value of key, or def when it is unset or blank.
func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	s := env(key, "")
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func envInt(key string, def int) (int, error) {
	s := env(key, "")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envPositiveDuration(key, def string) (time.Duration, error) {
	s := env(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q (must be > 0)", key, s)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
