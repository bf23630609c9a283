package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	ingester "github.com/soliplex/ingester"
	"github.com/soliplex/ingester/observability"
)

func newServeCommand(rootOpts *RootOptions) *cobra.Command {
	var concurrency int
	var metrics bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and run the worker pool in the foreground until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForeground(cmd.Context(), rootOpts, concurrency, metrics)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "override the number of worker goroutines (0 keeps the engine default)")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "record step/run/group OpenTelemetry metrics and traces")
	return cmd
}

func runForeground(ctx context.Context, rootOpts *RootOptions, concurrency int, metrics bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var engOpts []ingester.Option
	if concurrency > 0 {
		engOpts = append(engOpts, ingester.WithConcurrency(concurrency))
	}
	if metrics {
		engOpts = append(engOpts, ingester.WithExtension(observability.NewMetricsExtension()))
	}
	eng, err := buildEngine(ctx, rootOpts, engOpts...)
	if err != nil {
		return err
	}
	registerPassthroughHandlers(eng)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	eng.Logger().Info("ingesterd running, press ctrl-c to stop")

	<-ctx.Done()

	eng.Logger().Info("shutting down")
	return eng.Stop(context.Background())
}
