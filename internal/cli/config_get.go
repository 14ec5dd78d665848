package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

func NewConfigGetCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Show one config value, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 0 {
				all, err := st.AllConfig(ctx)
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(all))
				for k := range all {
					keys = append(keys, k)
				}
				slices.Sort(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%-22s %s\n", k, all[k])
				}
				return nil
			}

			val, err := st.GetConfig(ctx, args[0])
			if err != nil {
				return err
			}
			if val == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "(not set)")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), val)
			}
			return nil
		},
	}
}
