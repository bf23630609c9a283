package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newBatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage batches",
	}
	cmd.AddCommand(newBatchSubmitCommand(rootOpts))
	return cmd
}

func newBatchSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	var workflowID, paramSetID string
	var priority int

	cmd := &cobra.Command{
		Use:   "submit <source> <file>...",
		Short: "Ingest one or more files under a source and start a workflow run group for them",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			source, files := args[0], args[1:]

			eng, err := buildEngine(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer eng.Store().Close()

			batch, err := eng.CreateBatch(ctx, fmt.Sprintf("%s-submit", source), source, nil)
			if err != nil {
				return fmt.Errorf("create batch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created batch %s\n", batch.ID)

			hashes := make([]string, 0, len(files))
			for _, path := range files {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				result, err := eng.IngestDocument(ctx, batch.ID, source, path, data, mimeTypeFor(path), nil)
				if err != nil {
					return fmt.Errorf("ingest %s: %w", path, err)
				}
				hashes = append(hashes, result.DocumentURI.Hash)
				status := "new"
				if result.AlreadyExists {
					status = fmt.Sprintf("duplicate of batch %s", result.OriginalBatchID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  %s -> %s (%s)\n", path, result.DocumentURI.Hash, status)
			}

			if workflowID == "" {
				return nil
			}

			group, err := eng.StartWorkflows(ctx, batch.ID, workflowID, paramSetID, hashes, priority)
			if err != nil {
				return fmt.Errorf("start workflows: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "started run group %s (%s/%s) for %d document(s)\n",
				group.ID, workflowID, paramSetID, len(hashes))
			return nil
		},
	}

	cmd.Flags().StringVar(&workflowID, "workflow", "", "workflow definition id to run against the ingested documents; omit to only ingest")
	cmd.Flags().StringVar(&paramSetID, "params", "default", "parameter set id to resolve the workflow against")
	cmd.Flags().IntVar(&priority, "priority", 0, "run priority, higher claims first")

	return cmd
}

func mimeTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown"
	case ".txt":
		return "text/plain"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
