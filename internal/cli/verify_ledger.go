package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avekseev/fileguard/internal/ledger"
)

var verifyLedgerDate string

func init() {
	rootCmd.AddCommand(verifyLedgerCmd)
	verifyLedgerCmd.Flags().StringVar(&verifyLedgerDate, "date", "", "UTC day to verify, YYYY-MM-DD (default today)")
}

var verifyLedgerCmd = &cobra.Command{
	Use:   "verify-ledger",
	Short: "Validate the hash chain of a day's tamper ledger",
	RunE:  runVerifyLedger,
}

func runVerifyLedger(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	day := verifyLedgerDate
	if day == "" {
		day = time.Now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", day); err != nil {
		return fmt.Errorf("invalid --date %q: %w", day, err)
	}

	led, err := ledger.Open(cfg.Paths.Ledger)
	if err != nil {
		return err
	}
	defer led.Close()

	result := ledger.Verify(led.FilePath(day))
	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}
