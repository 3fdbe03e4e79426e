// Package ragerr defines the error taxonomy shared by the ingestion,
// retrieval and chat layers.
//
// Every failure that crosses a component boundary is a *StageError carrying
// the pipeline stage it happened in and whether retrying the same request is
// safe. The underlying kind is one of the sentinel errors below and is
// matched with errors.Is.
package ragerr

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyContent indicates a document had no usable text to index.
	ErrEmptyContent = errors.New("empty content")

	// ErrEmbeddingFailed indicates the embedder returned an error, no
	// vectors, or a vector count that does not match the input count.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrEmbeddingUnavailable indicates no embedding provider is configured.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrGenerationFailed indicates the generator errored or timed out.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrTenantNotFound indicates an explicit operation targeted a tenant
	// that has no index.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrConversationNotFound is internal to conversation resolution and is
	// never surfaced to chat callers.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidArgument indicates malformed input from the caller.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageIngestion   Stage = "ingestion"
	StageEmbedding   Stage = "embedding"
	StageRetrieval   Stage = "retrieval"
	StageGeneration  Stage = "generation"
	StagePersistence Stage = "persistence"
)

// StageError is a structured error annotated with the stage it failed in.
type StageError struct {
	Stage     Stage  // where it failed
	Op        string // operation, e.g. "ingest", "chat"
	Retryable bool   // whether the same request may be retried as-is
	Err       error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s stage: %v", e.Op, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap allows errors.Is and errors.As to see the underlying kind.
func (e *StageError) Unwrap() error {
	return e.Err
}

// New wraps err with its stage. Retryability is derived from the error kind:
// empty content and invalid arguments are the caller's fault and will fail
// the same way again.
func New(stage Stage, op string, err error) *StageError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		// Keep the innermost stage; only fill in a missing op.
		if se.Op == "" {
			se.Op = op
		}
		return se
	}
	return &StageError{
		Stage:     stage,
		Op:        op,
		Retryable: retryable(err),
		Err:       err,
	}
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrTenantNotFound),
		errors.Is(err, ErrEmbeddingUnavailable):
		return false
	default:
		return true
	}
}

// StageOf reports the stage of err, or "" if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// IsRetryable reports whether err is a StageError marked retryable.
func IsRetryable(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
