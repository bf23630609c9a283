package cli

import (
	"github.com/spf13/cobra"
)

func newWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	var concurrency int
	var metrics bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run only the worker pool against the shared store, scaling out execution capacity",
		Long: `worker runs the same claim/execute/advance loop as serve, without any
operator-facing intent beyond claiming RunSteps. Run several worker
processes against the same postgres store to scale out execution
capacity horizontally; each registers its own heartbeat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(cmd.Context(), rootOpts, concurrency, metrics)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override the number of worker goroutines (0 keeps the engine default)")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "record step/run/group OpenTelemetry metrics and traces")
	return cmd
}
