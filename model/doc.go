// Package model defines the persistent entities of the ingestion engine:
// Batch, Document, DocumentURI, RunGroup, WorkflowRun, RunStep, StepConfig,
// ParameterSet, WorkerCheckin, and LifecycleHistory. These are plain
// structs; persistence, validation, and state transitions live in the
// store, scheduler, and lifecycle packages.
package model
