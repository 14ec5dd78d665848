package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"filingctl/internal/store"
)

var knownKeys = map[string]bool{
	store.KeyMaxAttempts:   true,
	store.KeyBackoffBaseMS: true,
	store.KeyExecTimeout:   true,
}

func NewConfigSetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Args:  cobra.ExactArgs(2),
		Short: "Set a config value; workers pick it up on their next start",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if !knownKeys[key] {
				return fmt.Errorf("unknown config key %q", key)
			}
			if n, err := strconv.Atoi(value); err != nil || n <= 0 {
				return fmt.Errorf("%s must be a positive integer, got %q", key, value)
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			if err := st.SetConfig(cmd.Context(), key, value); err != nil {
				return fmt.Errorf("failed to set config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Updated:", key, "=", value)
			return nil
		},
	}
}
