package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"filingctl/internal/model"
)

func NewListCmd(app *App) *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOpts{Limit: limit}
			if state != "" {
				s, err := model.ParseState(state)
				if err != nil {
					return err
				}
				opts.State = s
			}

			st, err := app.Store()
			if err != nil {
				return err
			}
			jobs, err := st.List(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}
			for _, j := range jobs {
				fmt.Fprintf(out, "%s | %-20s | case=%s | attempt=%d | updated %s\n",
					j.ID, j.State, j.CaseID, j.Attempt, humanize.Time(j.UpdatedAt))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by job state (created,queued,running,awaiting_human_input,done,failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of jobs to show, 0 for all")
	return cmd
}
