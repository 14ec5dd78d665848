package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"filingctl/internal/engine"
)

func NewWorkerStopCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop running workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			ctl := engine.NewControl(cfg.DataDir)
			if err := ctl.RequestStop(); err != nil {
				return fmt.Errorf("failed to request stop: %w", err)
			}

			out := cmd.OutOrStdout()
			if pid, err := ctl.ReadPID(); err == nil {
				fmt.Fprintf(out, "Stop requested for worker process %d.\n", pid)
			} else {
				fmt.Fprintln(out, "Stop requested; no worker pid file found.")
			}
			fmt.Fprintln(out, "Workers will exit after finishing their current job.")
			return nil
		},
	}
}
