package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/kernwire/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Metrics.Addr != "" {
		t.Errorf("Metrics.Addr = %q, want disabled by default", cfg.Metrics.Addr)
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.FUSE.RequestTimeout != 10*time.Second {
		t.Errorf("FUSE.RequestTimeout = %v, want %v", cfg.FUSE.RequestTimeout, 10*time.Second)
	}

	if cfg.FUSE.MaxReadahead != 131072 {
		t.Errorf("FUSE.MaxReadahead = %d, want 131072", cfg.FUSE.MaxReadahead)
	}

	if cfg.Netlink.RecvBufSize != 0 {
		t.Errorf("Netlink.RecvBufSize = %d, want 0", cfg.Netlink.RecvBufSize)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
log:
  level: "debug"
  format: "text"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
fuse:
  mount_dir: "/tmp/kernwire-mnt"
  request_timeout: "2s"
  max_readahead: 65536
netlink:
  recv_buf_size: 32768
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.FUSE.MountDir != "/tmp/kernwire-mnt" {
		t.Errorf("FUSE.MountDir = %q, want %q", cfg.FUSE.MountDir, "/tmp/kernwire-mnt")
	}

	if cfg.FUSE.RequestTimeout != 2*time.Second {
		t.Errorf("FUSE.RequestTimeout = %v, want %v", cfg.FUSE.RequestTimeout, 2*time.Second)
	}

	if cfg.FUSE.MaxReadahead != 65536 {
		t.Errorf("FUSE.MaxReadahead = %d, want 65536", cfg.FUSE.MaxReadahead)
	}

	if cfg.Netlink.RecvBufSize != 32768 {
		t.Errorf("Netlink.RecvBufSize = %d, want 32768", cfg.Netlink.RecvBufSize)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override log.level and fuse.request_timeout.
	// Everything else should inherit from defaults.
	yamlContent := `
log:
  level: "warn"
fuse:
  request_timeout: "30s"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.FUSE.RequestTimeout != 30*time.Second {
		t.Errorf("FUSE.RequestTimeout = %v, want %v", cfg.FUSE.RequestTimeout, 30*time.Second)
	}

	// Default values should be preserved.
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.FUSE.MaxReadahead != 131072 {
		t.Errorf("FUSE.MaxReadahead = %d, want default 131072", cfg.FUSE.MaxReadahead)
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}

	if cfg.FUSE.RequestTimeout != 10*time.Second {
		t.Errorf("FUSE.RequestTimeout = %v, want default %v", cfg.FUSE.RequestTimeout, 10*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "zero request timeout",
			modify: func(cfg *config.Config) {
				cfg.FUSE.RequestTimeout = 0
			},
			wantErr: config.ErrInvalidRequestTimeout,
		},
		{
			name: "negative request timeout",
			modify: func(cfg *config.Config) {
				cfg.FUSE.RequestTimeout = -1 * time.Second
			},
			wantErr: config.ErrInvalidRequestTimeout,
		},
		{
			name: "negative recv buf size",
			modify: func(cfg *config.Config) {
				cfg.Netlink.RecvBufSize = -1
			},
			wantErr: config.ErrInvalidRecvBufSize,
		},
		{
			name: "bad log format",
			modify: func(cfg *config.Config) {
				cfg.Log.Format = "xml"
			},
			wantErr: config.ErrInvalidLogFormat,
		},
		{
			name: "metrics addr without path",
			modify: func(cfg *config.Config) {
				cfg.Metrics.Addr = ":9100"
				cfg.Metrics.Path = ""
			},
			wantErr: config.ErrEmptyMetricsPath,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "kernwire.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
