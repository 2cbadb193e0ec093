package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/avekseev/fileguard/internal/baseline"
	"github.com/avekseev/fileguard/internal/validate"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "One-shot integrity check against the baseline",
	Long: "Loads and verifies the signed baseline, re-hashes every file in it,\n" +
		"and prints each invalid verdict. Exits non-zero when anything fails,\n" +
		"so it slots into cron or CI.",
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	store, err := baseline.NewStore(cfg.Paths.Baseline, cfg.Secret)
	if err != nil {
		return err
	}
	b, err := store.Load()
	if err != nil {
		return fmt.Errorf("baseline check failed: %w", err)
	}

	v := validate.New()
	v.SetBaseline(b.Hashes)

	invalid := v.All()
	if len(invalid) == 0 {
		fmt.Printf("OK: %d files match the baseline\n", b.FileCount)
		return nil
	}

	for _, verdict := range invalid {
		fmt.Fprintf(os.Stderr, "TAMPERED: %s (%s)\n", verdict.Path, verdict.Reason)
	}
	fmt.Fprintf(os.Stderr, "%d of %d files failed validation\n", len(invalid), b.FileCount)
	os.Exit(1)
	return nil
}
