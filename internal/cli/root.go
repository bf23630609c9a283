// Package cli implements the ingesterd command-line tool: batch
// submission, run-group inspection and retry, registry validation,
// schema migration, and the serve/worker entrypoints.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags every subcommand shares: which
// persistence backend to connect to, where the workflow/parameter-set
// registry and artifact store live.
type RootOptions struct {
	Backend string // "memory" | "sqlite" | "postgres"
	DSN     string // sqlite file path or postgres connection string

	WorkflowBuiltinDir string
	WorkflowUserDir    string
	ParamBuiltinDir    string
	ParamUserDir       string

	ArtifactDir string
	StorageRoot string

	Verbose bool
}

var validBackends = []string{"memory", "sqlite", "postgres"}

// NewRootCommand builds the ingesterd root command and every subcommand.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ingesterd",
		Short: "ingesterd - document ingestion workflow engine",
		Long:  "ingesterd submits batches, runs the worker pool, and manages run groups for the document ingestion workflow engine.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidBackend(opts.Backend) {
				return fmt.Errorf("invalid backend %q: must be one of %v", opts.Backend, validBackends)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "sqlite", "persistence backend (memory|sqlite|postgres)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "ingester.db", "sqlite file path, or postgres connection string")
	cmd.PersistentFlags().StringVar(&opts.WorkflowBuiltinDir, "workflow-dir", "./workflows", "directory of built-in workflow definition YAML files")
	cmd.PersistentFlags().StringVar(&opts.WorkflowUserDir, "workflow-user-dir", "./workflows/user", "directory of user-supplied workflow definition YAML files")
	cmd.PersistentFlags().StringVar(&opts.ParamBuiltinDir, "param-dir", "./params", "directory of built-in parameter set YAML files")
	cmd.PersistentFlags().StringVar(&opts.ParamUserDir, "param-user-dir", "./params/user", "directory of user-supplied parameter set YAML files")
	cmd.PersistentFlags().StringVar(&opts.ArtifactDir, "artifact-dir", "./artifacts", "root directory of the filesystem artifact store")
	cmd.PersistentFlags().StringVar(&opts.StorageRoot, "storage-root", "default", "artifact store storage root label")

	cmd.AddCommand(newBatchCommand(opts))
	cmd.AddCommand(newRunGroupCommand(opts))
	cmd.AddCommand(newRegistryCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newWorkerCommand(opts))

	return cmd
}

func isValidBackend(b string) bool {
	for _, v := range validBackends {
		if v == b {
			return true
		}
	}
	return false
}
