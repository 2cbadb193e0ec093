package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/avekseev/fileguard/internal/agent"
)

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Generate a fresh signed baseline",
	Long: "Resolves the protected set, hashes every file, backs up critical and\n" +
		"high tier files, and commits a newly signed baseline. Run this after\n" +
		"every legitimate change to a protected file.",
	RunE: runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	a, err := agent.New(cfg, newLogger())
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	defer a.Stop()

	summary, err := a.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	fmt.Printf("baseline written: %s\n", summary.Path)
	fmt.Printf("files protected:  %d\n", summary.FileCount)
	fmt.Printf("signature:        %s\n", summary.Signature)
	return nil
}
