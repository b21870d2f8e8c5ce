package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds all runtime configuration for the call signaling server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir      string
	HTTPPort     int
	PostgresDSN  string // when set, sessions live in Postgres instead of the embedded sqlite store
	RedisAddr    string // when set, signaling fans out through Redis pub/sub instead of in-process
	LogLevel     string
	LogFormat    string // log output format: "text" or "json"
	JWTSecret    string // hex-encoded 32-byte secret for portal JWT verification
	FCMCreds     string // path to a Firebase service-account JSON file for wake-up pushes
	DeepLinkBase string // portal entry URL that deep links are built on
}

// defaults
const (
	defaultDataDir      = "./data"
	defaultHTTPPort     = 8080
	defaultLogLevel     = "info"
	defaultLogFormat    = "text"
	defaultDeepLinkBase = "https://app.eduspace.example.com/portal"
)

// envPrefix is the prefix for all environment variables.
const envPrefix = "EDUSPACE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:], os.LookupEnv)
}

// load is the testable core of Load.
func load(args []string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("callsignald", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded sqlite store")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", "", "Postgres DSN for the session store (sqlite in data-dir if empty)")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", "", "Redis address host:port for signaling pub/sub (in-process bus if empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for portal JWT verification (auto-generated if empty)")
	fs.StringVar(&cfg.FCMCreds, "fcm-credentials", "", "path to a Firebase service-account JSON file (pushes disabled if empty)")
	fs.StringVar(&cfg.DeepLinkBase, "deep-link-base", defaultDeepLinkBase, "portal entry URL used to build call deep links")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	applyEnvOverrides(fs, cfg, lookupEnv)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config, lookupEnv func(string) (string, bool)) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	envMap := map[string]string{
		"data-dir":        envPrefix + "DATA_DIR",
		"http-port":       envPrefix + "HTTP_PORT",
		"postgres-dsn":    envPrefix + "POSTGRES_DSN",
		"redis-addr":      envPrefix + "REDIS_ADDR",
		"log-level":       envPrefix + "LOG_LEVEL",
		"log-format":      envPrefix + "LOG_FORMAT",
		"jwt-secret":      envPrefix + "JWT_SECRET",
		"fcm-credentials": envPrefix + "FCM_CREDENTIALS",
		"deep-link-base":  envPrefix + "DEEP_LINK_BASE",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := lookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "postgres-dsn":
			cfg.PostgresDSN = val
		case "redis-addr":
			cfg.RedisAddr = val
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "jwt-secret":
			cfg.JWTSecret = val
		case "fcm-credentials":
			cfg.FCMCreds = val
		case "deep-link-base":
			cfg.DeepLinkBase = val
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	u, err := url.Parse(c.DeepLinkBase)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("deep-link-base must be an absolute URL, got %q", c.DeepLinkBase)
	}

	return nil
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogLevel maps the configured level string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
