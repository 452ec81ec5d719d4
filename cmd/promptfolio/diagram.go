package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexsaulik/promptfolio/internal/diagram"
	"github.com/alexsaulik/promptfolio/internal/store"
)

func newDiagramCmd(c *cli) *cobra.Command {
	var executionID string
	cmd := &cobra.Command{
		Use:   "diagram <workflow-id>",
		Short: "Print a Mermaid flowchart of a workflow, optionally colored by a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			ctx := cmd.Context()
			def, err := a.store.LoadDefinition(ctx, args[0])
			if err != nil {
				return err
			}

			var states map[string]*store.StepState
			if executionID != "" {
				states, err = store.NewEventLog(a.store).Replay(ctx, executionID)
				if err != nil {
					return err
				}
			}

			model, err := diagram.Build(def, states)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), diagram.RenderMermaid(model))
			return err
		},
	}
	cmd.Flags().StringVar(&executionID, "execution", "", "overlay step outcomes from this execution")
	return cmd
}
