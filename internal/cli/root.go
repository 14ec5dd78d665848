package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "filingctl",
		Short:         "Form-filing job orchestrator with human-in-the-loop CAPTCHA resume",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "path to config file (default filingctl.yaml when present)")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "override log level (debug, info, warn, error)")

	cfgCmd := NewConfigRootCmd()
	cfgCmd.AddCommand(NewConfigGetCmd(app), NewConfigSetCmd(app))

	workerCmd := NewWorkerRootCmd()
	workerCmd.AddCommand(NewWorkerStartCmd(app), NewWorkerStopCmd(app))

	cmd.AddCommand(
		NewServeCmd(app),
		NewSubmitCmd(app),
		NewResumeCmd(app),
		NewStatusCmd(app),
		NewListCmd(app),
		NewPruneCmd(app),
		cfgCmd,
		workerCmd,
	)
	return cmd
}
