package model

// RunStatus is the lifecycle state shared by RunGroup, WorkflowRun, and
// RunStep.
type RunStatus string

const (
	// StatusPending means the entity has not started yet.
	StatusPending RunStatus = "PENDING"
	// StatusRunning means the entity is currently executing.
	StatusRunning RunStatus = "RUNNING"
	// StatusCompleted means the entity finished successfully.
	StatusCompleted RunStatus = "COMPLETED"
	// StatusError means the entity failed but has retries remaining.
	StatusError RunStatus = "ERROR"
	// StatusFailed means the entity exhausted retries or hit a fatal
	// error; this is terminal.
	StatusFailed RunStatus = "FAILED"
)

// Terminal reports whether status is a terminal state (COMPLETED or FAILED).
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// WorkflowStepType names the kind of work a RunStep performs. Step types
// are ordered only by their position within a WorkflowDefinition's
// ItemSteps, not by any global ordering among the constants below.
type WorkflowStepType string

const (
	StepIngest   WorkflowStepType = "ingest"
	StepValidate WorkflowStepType = "validate"
	StepParse    WorkflowStepType = "parse"
	StepChunk    WorkflowStepType = "chunk"
	StepEmbed    WorkflowStepType = "embed"
	StepStore    WorkflowStepType = "store"
	StepEnrich   WorkflowStepType = "enrich"
	StepRoute    WorkflowStepType = "route"
)

// ArtifactType names the kind of blob a step produces.
type ArtifactType string

const (
	ArtifactDocument       ArtifactType = "document"
	ArtifactParsedMarkdown ArtifactType = "parsed_markdown"
	ArtifactParsedJSON     ArtifactType = "parsed_json"
	ArtifactChunks         ArtifactType = "chunks"
	ArtifactEmbeddings     ArtifactType = "embeddings"
	ArtifactRAG            ArtifactType = "rag"
)

// ArtifactsFromStep lists the artifact kinds a given step type is expected
// to produce when it completes successfully.
var ArtifactsFromStep = map[WorkflowStepType][]ArtifactType{
	StepIngest: {ArtifactDocument},
	StepParse:  {ArtifactParsedMarkdown, ArtifactParsedJSON},
	StepChunk:  {ArtifactChunks},
	StepEmbed:  {ArtifactEmbeddings},
	StepStore:  {ArtifactRAG},
}

// ArtifactToStep maps an artifact kind back to the step type that produces
// it, the inverse of ArtifactsFromStep (flattened, since each artifact
// kind is produced by exactly one step type).
var ArtifactToStep = map[ArtifactType]WorkflowStepType{
	ArtifactDocument:       StepIngest,
	ArtifactParsedMarkdown: StepParse,
	ArtifactParsedJSON:     StepParse,
	ArtifactChunks:         StepChunk,
	ArtifactEmbeddings:     StepEmbed,
	ArtifactRAG:            StepStore,
}

// LifecycleEvent names a point in the group/run/step lifecycle that the
// Lifecycle Recorder captures.
type LifecycleEvent string

const (
	EventGroupStart LifecycleEvent = "group_start"
	EventGroupEnd   LifecycleEvent = "group_end"
	EventItemStart  LifecycleEvent = "item_start"
	EventItemEnd    LifecycleEvent = "item_end"
	EventItemFailed LifecycleEvent = "item_failed"
	EventStepStart  LifecycleEvent = "step_start"
	EventStepEnd    LifecycleEvent = "step_end"
	EventStepFailed LifecycleEvent = "step_failed"
)
