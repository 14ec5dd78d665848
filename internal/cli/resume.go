package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"filingctl/internal/model"
)

func NewResumeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <job-id> ['{\"captcha_solution\":\"x7k2\"}']",
		Short: "Resume a job that is waiting for human input",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := model.Payload{}
			if len(args) == 2 {
				var err error
				if input, err = parseObject(args[1]); err != nil {
					return err
				}
			}

			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.Orch.Resume(cmd.Context(), args[0], input); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Job requeued:", args[0])
			return nil
		},
	}
}
