package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func NewPruneCmd(app *App) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete done and failed jobs last updated before --older-than",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			st, err := app.Store()
			if err != nil {
				return err
			}
			cutoff := time.Now().UTC().Add(-olderThan)
			n, err := st.PruneTerminal(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune jobs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %s terminal jobs last updated before %s.\n",
				humanize.Comma(int64(n)), humanize.Time(cutoff))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of pruned jobs")
	return cmd
}
