package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avekseev/fileguard/internal/agent"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start monitoring the protected set",
	Long: "Runs the environment pre-flight, verifies the signed baseline, sweeps\n" +
		"every protected file once, then watches for live changes until\n" +
		"interrupted. A critical violation terminates the process.",
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	log := newLogger()

	a, err := agent.New(cfg, log)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	defer a.Stop()

	if err := a.Initialize(); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := a.Start(); err != nil {
		return fmt.Errorf("start monitoring: %w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("signal received, stopping", "signal", s.String())
	return nil
}
