package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"filingctl/internal/model"
)

func NewStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one job, or a summary of jobs per state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.Store()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				job, err := st.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printJob(out, job.View())
				return nil
			}

			counts, err := st.CountByState(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Job Status:")
			for _, s := range model.States {
				fmt.Fprintf(out, "  %-22s %s\n", s, humanize.Comma(int64(counts[s])))
			}
			if depth, err := st.QueueDepth(cmd.Context()); err == nil {
				fmt.Fprintf(out, "  %-22s %s\n", "(queue units)", humanize.Comma(int64(depth)))
			}
			return nil
		},
	}
}

func printJob(w io.Writer, v model.JobView) {
	fmt.Fprintf(w, "Job:       %s\n", v.ID)
	fmt.Fprintf(w, "Case:      %s\n", v.CaseID)
	fmt.Fprintf(w, "State:     %s\n", v.State)
	fmt.Fprintf(w, "Attempt:   %d\n", v.Attempt)
	fmt.Fprintf(w, "Created:   %s\n", humanize.Time(v.CreatedAt))
	fmt.Fprintf(w, "Updated:   %s\n", humanize.Time(v.UpdatedAt))
	if v.InterruptArtifactRef != "" {
		fmt.Fprintf(w, "Challenge: %s\n", v.InterruptArtifactRef)
	}
	if v.LastError != "" {
		fmt.Fprintf(w, "Error:     %s\n", v.LastError)
	}
	if len(v.Result) > 0 {
		b, err := json.MarshalIndent(v.Result, "", "  ")
		if err != nil {
			b = v.Result
		}
		fmt.Fprintf(w, "Result:    %s\n", b)
	}
}
