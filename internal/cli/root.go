package cli

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/avekseev/fileguard/internal/config"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "fileguard",
	Short: "Tamper-detection and integrity-enforcement agent",
	Long: "Maintains a signed hash inventory of a host's control-plane files,\n" +
		"detects unauthorized modification or deletion, and responds by tier:\n" +
		"alert, automatic restore, or hard process shutdown.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Path to config YAML (default ~/.fileguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace|debug|info|warn|error)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "fileguard",
		Level:  hclog.LevelFromString(logLevel),
		Output: os.Stderr,
	})
}

// loadConfig loads configuration, exiting EX_CONFIG on failure: a broken
// or secretless configuration must never fall through into monitoring.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(78) // EX_CONFIG
	}
	return cfg
}
