package cli

import "github.com/spf13/cobra"

func NewConfigRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Runtime knobs stored in the database: max_attempts, backoff_base_ms, exec_timeout_seconds",
	}
}
