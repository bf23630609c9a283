package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRegistryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the workflow and parameter-set registry",
	}
	cmd.AddCommand(newRegistryValidateCommand(rootOpts))
	return cmd
}

func newRegistryValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load workflow definitions and parameter sets, failing on duplicate IDs, and list the workflows; step-config coverage is not checked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := buildRegistry(rootOpts)
			if err != nil {
				return err
			}

			names := reg.WorkflowNames()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "loaded %d workflow definition(s)\n", len(names))
			for _, name := range names {
				wf, _ := reg.GetWorkflow(name)
				fmt.Fprintf(out, "  %s (%d steps)\n", wf.ID, len(wf.ItemSteps))
			}
			return nil
		},
	}
}
