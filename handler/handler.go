// Package handler defines the contract a step handler must satisfy, and
// the retryable/fatal error types that tell the scheduler how to advance
// a RunStep that returned an error.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/soliplex/ingester/id"
	"github.com/soliplex/ingester/model"
)

// Request is passed to every step handler invocation.
type Request struct {
	// BatchID is the batch the owning WorkflowRun belongs to.
	BatchID id.BatchID
	// DocHash is the content hash of the Document being processed. Empty
	// for steps that run before a hash exists (e.g. a raw-bytes ingest
	// step that computes the hash itself).
	DocHash string
	// Source is the originating system name (matches Batch.Source).
	Source string
	// StepType names the kind of work being performed.
	StepType model.WorkflowStepType
	// Config is this step's resolved StepConfig.Config.
	Config map[string]any
	// CumulativeConfig additionally carries every preceding step's
	// config in the same WorkflowRun.
	CumulativeConfig map[string]any
}

// Func is the handler contract: given a Request, produce metadata to
// attach to the RunStep's status_meta, or fail with a RetryableError or
// FatalError (a plain error is treated as retryable).
type Func func(ctx context.Context, req Request) (map[string]any, error)

// RetryableError signals the scheduler should schedule another attempt
// (subject to the owning RunStep's Retries budget) after a backoff
// delay.
type RetryableError struct {
	Cause error
}

// NewRetryableError wraps cause as a RetryableError.
func NewRetryableError(cause error) *RetryableError {
	return &RetryableError{Cause: cause}
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Cause)
}

func (e *RetryableError) Unwrap() error { return e.Cause }

// FatalError signals the scheduler to fail the RunStep immediately,
// regardless of remaining retry budget.
type FatalError struct {
	Cause error
}

// NewFatalError wraps cause as a FatalError.
func NewFatalError(cause error) *FatalError {
	return &FatalError{Cause: cause}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// IsFatal reports whether err (or anything it wraps) is a *FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
