package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"filingctl/internal/model"
)

func NewSubmitCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <case-id> '{\"name\":\"Ada\",\"address\":\"1 Main St\"}'",
		Short: "Submit a filing case as a new job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parseObject(args[1])
			if err != nil {
				return err
			}

			rt, err := app.Runtime(cmd.Context())
			if err != nil {
				return err
			}
			id, err := rt.Orch.Submit(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Job queued:", id)
			return nil
		},
	}
}

func parseObject(s string) (model.Payload, error) {
	var p model.Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("invalid JSON object: got null")
	}
	return p, nil
}
