package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dantte-lp/kernwire/internal/config"
	harnessmetrics "github.com/dantte-lp/kernwire/internal/metrics"
)

var (
	// configPath is the --config flag value, an optional YAML file.
	configPath string

	// cfg is the loaded configuration, initialized in PersistentPreRunE.
	cfg *config.Config

	// logger is the root structured logger for all commands.
	logger *slog.Logger

	// registry and collector hold the harness metrics for this run.
	registry  *prometheus.Registry
	collector *harnessmetrics.Collector
)

// rootCmd is the top-level cobra command for kernwire.
var rootCmd = &cobra.Command{
	Use:   "kernwire",
	Short: "Conformance harness for kernel FUSE and NETLINK_ROUTE wire protocols",
	Long: "kernwire acts as the userspace peer of the kernel's FUSE and rtnetlink\n" +
		"transports, scripting exact responses and validating the requests and\n" +
		"replies the kernel under test produces on the wire.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		logger = newLogger(cfg.Log)

		registry = prometheus.NewRegistry()
		collector = harnessmetrics.NewCollector(registry)

		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to configuration file (YAML)")

	rootCmd.AddCommand(fuseCmd())
	rootCmd.AddCommand(neighCmd())
	rootCmd.AddCommand(versionCmd())
}

// newLogger builds the root logger from the log configuration.
func newLogger(lc config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.ParseLogLevel(lc.Level)}

	var handler slog.Handler
	if lc.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
