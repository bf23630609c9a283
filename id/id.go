// Package id defines TypeID-based identity types for every ingester entity.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique, and
// URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all ingester entity types.
const (
	PrefixBatch         Prefix = "batch"
	PrefixDocument       Prefix = "doc"
	PrefixDocumentURI    Prefix = "uri"
	PrefixURIHistory     Prefix = "urihist"
	PrefixRunGroup       Prefix = "grp"
	PrefixWorkflowRun    Prefix = "run"
	PrefixRunStep        Prefix = "step"
	PrefixStepConfig     Prefix = "cfg"
	PrefixParameterSet   Prefix = "pset"
	PrefixWorker         Prefix = "wkr"
	PrefixArtifact       Prefix = "art"
	PrefixLifecycleEvent Prefix = "lc"
)

// ID is the primary identifier type for all ingester entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "job_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// MustParseWithPrefix is like ParseWithPrefix but panics on error.
func MustParseWithPrefix(s string, expected Prefix) ID {
	parsed, err := ParseWithPrefix(s, expected)
	if err != nil {
		panic(fmt.Sprintf("id: must parse with prefix %q: %v", expected, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// BatchID is a type-safe identifier for document batches (prefix: "batch").
type BatchID = ID

// DocumentID is a type-safe identifier for documents, keyed by content hash
// at the storage layer but still carrying a TypeID for API use (prefix: "doc").
type DocumentID = ID

// DocumentURIID is a type-safe identifier for document URIs (prefix: "uri").
type DocumentURIID = ID

// URIHistoryID is a type-safe identifier for URI history rows (prefix: "urihist").
type URIHistoryID = ID

// RunGroupID is a type-safe identifier for run groups (prefix: "grp").
type RunGroupID = ID

// WorkflowRunID is a type-safe identifier for workflow runs (prefix: "run").
type WorkflowRunID = ID

// RunStepID is a type-safe identifier for run steps (prefix: "step").
type RunStepID = ID

// StepConfigID is a type-safe identifier for step configs (prefix: "cfg").
type StepConfigID = ID

// ParameterSetID is a type-safe identifier for parameter sets (prefix: "pset").
type ParameterSetID = ID

// WorkerID is a type-safe identifier for workers (prefix: "wkr").
type WorkerID = ID

// ArtifactID is a type-safe identifier for artifacts (prefix: "art").
type ArtifactID = ID

// LifecycleEventID is a type-safe identifier for lifecycle history rows
// (prefix: "lc").
type LifecycleEventID = ID

// AnyID is a type alias that accepts any valid prefix.
type AnyID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewBatchID generates a new unique batch ID.
func NewBatchID() ID { return New(PrefixBatch) }

// NewDocumentID generates a new unique document ID.
func NewDocumentID() ID { return New(PrefixDocument) }

// NewDocumentURIID generates a new unique document URI ID.
func NewDocumentURIID() ID { return New(PrefixDocumentURI) }

// NewURIHistoryID generates a new unique URI history ID.
func NewURIHistoryID() ID { return New(PrefixURIHistory) }

// NewRunGroupID generates a new unique run group ID.
func NewRunGroupID() ID { return New(PrefixRunGroup) }

// NewWorkflowRunID generates a new unique workflow run ID.
func NewWorkflowRunID() ID { return New(PrefixWorkflowRun) }

// NewRunStepID generates a new unique run step ID.
func NewRunStepID() ID { return New(PrefixRunStep) }

// NewStepConfigID generates a new unique step config ID.
func NewStepConfigID() ID { return New(PrefixStepConfig) }

// NewParameterSetID generates a new unique parameter set ID.
func NewParameterSetID() ID { return New(PrefixParameterSet) }

// NewWorkerID generates a new unique worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// NewArtifactID generates a new unique artifact ID.
func NewArtifactID() ID { return New(PrefixArtifact) }

// NewLifecycleEventID generates a new unique lifecycle event ID.
func NewLifecycleEventID() ID { return New(PrefixLifecycleEvent) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseBatchID parses a string and validates the "batch" prefix.
func ParseBatchID(s string) (ID, error) { return ParseWithPrefix(s, PrefixBatch) }

// ParseDocumentID parses a string and validates the "doc" prefix.
func ParseDocumentID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDocument) }

// ParseDocumentURIID parses a string and validates the "uri" prefix.
func ParseDocumentURIID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDocumentURI) }

// ParseRunGroupID parses a string and validates the "grp" prefix.
func ParseRunGroupID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRunGroup) }

// ParseWorkflowRunID parses a string and validates the "run" prefix.
func ParseWorkflowRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorkflowRun) }

// ParseRunStepID parses a string and validates the "step" prefix.
func ParseRunStepID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRunStep) }

// ParseStepConfigID parses a string and validates the "cfg" prefix.
func ParseStepConfigID(s string) (ID, error) { return ParseWithPrefix(s, PrefixStepConfig) }

// ParseParameterSetID parses a string and validates the "pset" prefix.
func ParseParameterSetID(s string) (ID, error) { return ParseWithPrefix(s, PrefixParameterSet) }

// ParseWorkerID parses a string and validates the "wkr" prefix.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// ParseArtifactID parses a string and validates the "art" prefix.
func ParseArtifactID(s string) (ID, error) { return ParseWithPrefix(s, PrefixArtifact) }

// ParseAny parses a string into an ID without type checking the prefix.
func ParseAny(s string) (ID, error) { return Parse(s) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
