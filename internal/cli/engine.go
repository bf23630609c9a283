package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	ingester "github.com/soliplex/ingester"
	"github.com/soliplex/ingester/artifact"
	"github.com/soliplex/ingester/handler"
	"github.com/soliplex/ingester/registry"
	"github.com/soliplex/ingester/store"
	"github.com/soliplex/ingester/store/memory"
	"github.com/soliplex/ingester/store/postgres"
	"github.com/soliplex/ingester/store/sqlite"
)

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildStore(ctx context.Context, opts *RootOptions, logger *slog.Logger) (store.Store, error) {
	switch opts.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(opts.DSN, sqlite.WithLogger(logger))
	case "postgres":
		return postgres.New(ctx, opts.DSN, postgres.WithLogger(logger))
	default:
		return nil, fmt.Errorf("cli: unknown backend %q", opts.Backend)
	}
}

func buildRegistry(opts *RootOptions) (*registry.Registry, error) {
	r := registry.New(opts.WorkflowBuiltinDir, opts.WorkflowUserDir, opts.ParamBuiltinDir, opts.ParamUserDir)
	if err := r.Load(); err != nil {
		return nil, fmt.Errorf("cli: load registry: %w", err)
	}
	return r, nil
}

// buildEngine wires a Store, filesystem Artifact Store, and Registry
// from opts into a ready-to-use Engine, migrating the store's schema.
// No step handlers are registered and Start is not called — callers that
// need to execute RunSteps (serve, worker) do that themselves.
func buildEngine(ctx context.Context, opts *RootOptions, engOpts ...ingester.Option) (*ingester.Engine, error) {
	logger := newLogger(opts.Verbose)

	s, err := buildStore(ctx, opts, logger)
	if err != nil {
		return nil, err
	}
	reg, err := buildRegistry(opts)
	if err != nil {
		return nil, err
	}

	base := []ingester.Option{
		ingester.WithStore(s),
		ingester.WithArtifactStore(artifact.NewFSStore(opts.ArtifactDir)),
		ingester.WithRegistry(reg),
		ingester.WithLogger(logger),
		ingester.WithStorageRoot(opts.StorageRoot),
	}
	eng, err := ingester.New(append(base, engOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("cli: build engine: %w", err)
	}

	if err := s.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("cli: migrate store: %w", err)
	}
	return eng, nil
}

// registerPassthroughHandlers registers a no-op handler for every
// distinct handler name the loaded registry's workflow definitions
// reference, so `ingesterd serve`/`worker` can execute workflows without
// an embedding application supplying real handler logic. Production
// deployments import this module directly and call RegisterHandler with
// real step implementations before Start.
func registerPassthroughHandlers(eng *ingester.Engine) {
	seen := make(map[string]bool)
	for _, name := range eng.Registry().WorkflowNames() {
		wf, ok := eng.Registry().GetWorkflow(name)
		if !ok {
			continue
		}
		for _, step := range wf.ItemSteps {
			if seen[step.Handler] {
				continue
			}
			seen[step.Handler] = true
			eng.RegisterHandler(step.Handler, passthroughHandler)
		}
	}
}

func passthroughHandler(_ context.Context, req handler.Request) (map[string]any, error) {
	return map[string]any{"step_type": string(req.StepType)}, nil
}
