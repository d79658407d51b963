package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pulse-alerts/internal/app"
)

var (
	rescoreFrom   string
	rescoreTo     string
	rescoreDryRun bool
)

var rescoreCmd = &cobra.Command{
	Use:   "rescore",
	Short: "Re-score historical posts through the LLM",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rescoreFrom == "" || rescoreTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, rescoreFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, rescoreTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		opts := app.RescoreOptions{
			From:   from,
			To:     to,
			DryRun: rescoreDryRun,
		}

		return getApp().Rescore(cmd.Context(), opts)
	},
}

func init() {
	rescoreCmd.Flags().StringVar(&rescoreFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	rescoreCmd.Flags().StringVar(&rescoreTo, "to", "", "End timestamp (RFC3339, exclusive)")
	rescoreCmd.Flags().BoolVar(&rescoreDryRun, "dry-run", false, "Run without writing to storage")
}
