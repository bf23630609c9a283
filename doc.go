// Package ingester wires the persistence layer, workflow registry,
// scheduler, worker pool, and artifact store into a single Engine — the
// entry point applications use to submit batches, ingest documents,
// start workflows, and manage their lifecycle.
//
// Ingester is a library, not a service: import it, configure a store
// and an artifact store, register step handlers, and call Start.
//
// # Quick Start
//
//	eng, err := ingester.New(
//	    ingester.WithStore(pgStore),
//	    ingester.WithArtifactStore(artifact.NewFSStore("/var/lib/ingester/artifacts")),
//	    ingester.WithRegistry(reg),
//	    ingester.WithConcurrency(20),
//	)
//	eng.RegisterHandler("parse.markdown", parseMarkdown)
//	if err := eng.Start(ctx); err != nil { ... }
//
// # Architecture
//
// Ingester follows a single-store pattern: one store.Store backend
// (postgres, sqlite, or an in-memory implementation for tests)
// implements every subsystem's persistence contract. The Artifact Store
// is a separate, independently pluggable abstraction — store.Store never
// holds raw document bytes or step outputs; those go through the
// Artifact Store, whose artifact.DBStore backend may keep them in a
// table of the same database.
//
// Every entity ID uses TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package ingester
