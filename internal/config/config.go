// Package config manages kernwire harness configuration using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete kernwire configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	FUSE    FUSEConfig    `koanf:"fuse"`
	Netlink NetlinkConfig `koanf:"netlink"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint
	// (e.g., ":9100"). Empty disables the endpoint.
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// FUSEConfig holds the simulated-FUSE-server parameters.
type FUSEConfig struct {
	// MountDir is the directory the conformance scenarios mount the
	// simulated filesystem on. Empty means a temporary directory.
	MountDir string `koanf:"mount_dir"`

	// RequestTimeout bounds how long a scenario waits for the kernel to
	// emit an expected request.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// MaxReadahead is offered to the kernel during the FUSE_INIT
	// handshake.
	MaxReadahead uint32 `koanf:"max_readahead"`
}

// NetlinkConfig holds the NETLINK_ROUTE socket parameters.
type NetlinkConfig struct {
	// RecvBufSize is the SO_RCVBUF size applied to the netlink socket.
	// Zero keeps the kernel default.
	RecvBufSize int `koanf:"recv_buf_size"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
//
// The 10s request timeout matches how long a conformance run is willing
// to wait for the kernel under test to emit a single request before
// declaring the scenario stuck.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: "",
			Path: "/metrics",
		},
		FUSE: FUSEConfig{
			MountDir:       "",
			RequestTimeout: 10 * time.Second,
			MaxReadahead:   131072,
		},
		Netlink: NetlinkConfig{
			RecvBufSize: 0,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for kernwire configuration.
// Variables are named KERNWIRE_<section>_<key>, e.g., KERNWIRE_LOG_LEVEL.
const envPrefix = "KERNWIRE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (KERNWIRE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips
// the file layer.
//
// Environment variable mapping:
//
//	KERNWIRE_LOG_LEVEL            -> log.level
//	KERNWIRE_LOG_FORMAT           -> log.format
//	KERNWIRE_METRICS_ADDR         -> metrics.addr
//	KERNWIRE_METRICS_PATH         -> metrics.path
//	KERNWIRE_FUSE_MOUNT_DIR       -> fuse.mount_dir
//	KERNWIRE_FUSE_REQUEST_TIMEOUT -> fuse.request_timeout
//	KERNWIRE_NETLINK_RECV_BUF_SIZE -> netlink.recv_buf_size
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// Load environment variable overrides on top of YAML.
	// KERNWIRE_LOG_LEVEL -> log.level (strip prefix, lowercase, _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms KERNWIRE_LOG_LEVEL -> log.level.
// Strips the KERNWIRE_ prefix, lowercases, and replaces the first _ with .
// so multi-word keys like fuse.mount_dir survive.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"log.level":             defaults.Log.Level,
		"log.format":            defaults.Log.Format,
		"metrics.addr":          defaults.Metrics.Addr,
		"metrics.path":          defaults.Metrics.Path,
		"fuse.mount_dir":        defaults.FUSE.MountDir,
		"fuse.request_timeout":  defaults.FUSE.RequestTimeout.String(),
		"fuse.max_readahead":    defaults.FUSE.MaxReadahead,
		"netlink.recv_buf_size": defaults.Netlink.RecvBufSize,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidRequestTimeout indicates the FUSE request timeout is not
	// positive.
	ErrInvalidRequestTimeout = errors.New("fuse.request_timeout must be > 0")

	// ErrInvalidRecvBufSize indicates the netlink receive buffer size is
	// negative.
	ErrInvalidRecvBufSize = errors.New("netlink.recv_buf_size must be >= 0")

	// ErrInvalidLogFormat indicates an unrecognized log output format.
	ErrInvalidLogFormat = errors.New("log.format must be json or text")

	// ErrEmptyMetricsPath indicates the metrics endpoint is enabled with
	// an empty path.
	ErrEmptyMetricsPath = errors.New("metrics.path must not be empty when metrics.addr is set")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.FUSE.RequestTimeout <= 0 {
		return ErrInvalidRequestTimeout
	}

	if cfg.Netlink.RecvBufSize < 0 {
		return ErrInvalidRecvBufSize
	}

	if f := strings.ToLower(cfg.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("log format %q: %w", cfg.Log.Format, ErrInvalidLogFormat)
	}

	if cfg.Metrics.Addr != "" && cfg.Metrics.Path == "" {
		return ErrEmptyMetricsPath
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
