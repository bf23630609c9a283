package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soliplex/ingester/id"
)

func newRunGroupCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rungroup",
		Short: "Inspect and manage run groups",
	}
	cmd.AddCommand(newRunGroupShowCommand(rootOpts))
	cmd.AddCommand(newRunGroupRetryCommand(rootOpts))
	return cmd
}

func newRunGroupShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-group-id>",
		Short: "Show a run group and the status of its workflow runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := buildEngine(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Store().Close()

			groupID, err := id.ParseRunGroupID(args[0])
			if err != nil {
				return fmt.Errorf("parse run group id: %w", err)
			}

			group, err := eng.Store().GetRunGroup(ctx, groupID)
			if err != nil {
				return fmt.Errorf("get run group: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "group %s  workflow=%s  params=%s  status=%s\n",
				group.ID, group.WorkflowDefinitionID, group.ParamDefinitionID, group.Status)
			if group.StatusMessage != "" {
				fmt.Fprintf(out, "  message: %s\n", group.StatusMessage)
			}

			runs, err := eng.Store().ListWorkflowRunsForGroup(ctx, groupID)
			if err != nil {
				return fmt.Errorf("list workflow runs: %w", err)
			}
			for _, run := range runs {
				fmt.Fprintf(out, "  run %s  doc=%s  status=%s", run.ID, run.DocHash, run.Status)
				if run.StatusMessage != "" {
					fmt.Fprintf(out, "  (%s)", run.StatusMessage)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

func newRunGroupRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-group-id>",
		Short: "Reset every FAILED workflow run in a run group back to RUNNING",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := buildEngine(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Store().Close()

			groupID, err := id.ParseRunGroupID(args[0])
			if err != nil {
				return fmt.Errorf("parse run group id: %w", err)
			}

			retried, err := eng.RetryRunGroup(ctx, groupID)
			if err != nil {
				return fmt.Errorf("retry run group: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d workflow run(s) in group %s\n", retried, groupID)
			return nil
		},
	}
}
