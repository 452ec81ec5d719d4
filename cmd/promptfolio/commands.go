package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alexsaulik/promptfolio/internal/store"
	"github.com/alexsaulik/promptfolio/internal/triggers"
	"github.com/alexsaulik/promptfolio/pkg/schema"
)

func newImportCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Validate and store workflow definitions (YAML or JSON)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			out := cmd.OutOrStdout()
			for _, path := range args {
				def, result, err := loadDefinition(path, a.validator)
				if err != nil {
					if result != nil {
						printIssues(cmd.ErrOrStderr(), "error", result.Errors)
					}
					return fmt.Errorf("%s: %w", path, err)
				}
				printIssues(cmd.ErrOrStderr(), "warning", result.Warnings)
				if err := a.store.SaveDefinition(cmd.Context(), def); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(out, "imported %s (%d steps)\n", def.ID, len(def.Steps))
			}
			return nil
		},
	}
}

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a workflow definition without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			def, result, err := loadDefinition(args[0], a.validator)
			if err != nil {
				if result != nil {
					printIssues(cmd.ErrOrStderr(), "error", result.Errors)
				}
				return err
			}
			printIssues(cmd.ErrOrStderr(), "warning", result.Warnings)
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", def.ID)
			return nil
		},
	}
}

func newRunCmd(c *cli) *cobra.Command {
	var (
		assignments []string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Run a stored workflow and print its execution record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := parseVars(assignments)
			if err != nil {
				return err
			}
			a, err := c.open(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			run, err := a.engine.StartRun(ctx, args[0], seed)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), run); err != nil {
				return err
			}
			if run.Status == schema.ExecutionFailed {
				return fmt.Errorf("run %s failed: %s", run.ID, strings.Join(run.Errors, "; "))
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&assignments, "var", nil, "seed variable key=value; JSON values are decoded (repeatable)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "cancel the run after this long (0 = no limit)")
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	var withEvents bool
	cmd := &cobra.Command{
		Use:   "status <execution-id>",
		Short: "Show a stored execution record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			ctx := cmd.Context()
			run, err := a.engine.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if !withEvents {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			timeline, err := store.NewEventLog(a.store).Timeline(ctx, args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"execution": run, "events": timeline})
		},
	}
	cmd.Flags().BoolVar(&withEvents, "events", false, "include the event timeline")
	return cmd
}

func newListCmd(c *cli) *cobra.Command {
	var (
		workflowID string
		status     string
		limit      int
		activeOnly bool
	)
	cmd := &cobra.Command{
		Use:       "list [definitions|runs|schedules]",
		Short:     "List definitions, runs or upcoming scheduled triggers",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"definitions", "runs", "schedules"},
		RunE: func(cmd *cobra.Command, args []string) error {
			resource := "definitions"
			if len(args) == 1 {
				resource = args[0]
			}
			a, err := c.open(cmd, appOptions{})
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			switch resource {
			case "definitions":
				defs, err := a.store.ListDefinitions(ctx, store.DefinitionFilter{ActiveOnly: activeOnly, Limit: limit})
				if err != nil {
					return err
				}
				return writeJSON(out, defs)
			case "runs":
				runs, err := a.engine.ListRuns(ctx, store.RunFilter{
					WorkflowID: workflowID,
					Status:     schema.ExecutionStatus(status),
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				return writeJSON(out, runs)
			case "schedules":
				defs, err := a.store.ListDefinitions(ctx, store.DefinitionFilter{ActiveOnly: true})
				if err != nil {
					return err
				}
				upcoming := triggers.NextFires(defs, time.Now().UTC())
				if limit > 0 && len(upcoming) > limit {
					upcoming = upcoming[:limit]
				}
				return writeJSON(out, upcoming)
			default:
				return fmt.Errorf("unknown resource %q", resource)
			}
		},
	}
	cmd.Flags().StringVar(&workflowID, "workflow", "", "only runs of this workflow")
	cmd.Flags().StringVar(&status, "status", "", "only runs in this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active definitions")
	return cmd
}

// parseVars turns key=value pairs into a seed map. Values that parse as
// JSON keep their type; everything else is a string.
func parseVars(assignments []string) (map[string]any, error) {
	if len(assignments) == 0 {
		return nil, nil
	}
	seed := make(map[string]any, len(assignments))
	for _, a := range assignments {
		key, raw, ok := strings.Cut(a, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, want key=value", a)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		seed[key] = v
	}
	return seed, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
