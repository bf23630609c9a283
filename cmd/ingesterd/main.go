// Command ingesterd is the operator-facing entrypoint for the document
// ingestion workflow engine: submit batches, inspect and retry run
// groups, validate the workflow registry, migrate a store's schema, and
// run the worker pool.
package main

import (
	"fmt"
	"os"

	"github.com/soliplex/ingester/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
