package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeGraph represents graph store errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeEmbedding represents embedding provider errors
	ErrorTypeEmbedding ErrorType = "embedding"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
	// ErrorTypeInput represents malformed caller input that cannot be resolved to a sentinel
	ErrorTypeInput ErrorType = "input"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Kind reports the error category.
func (e *BaseError) Kind() ErrorType {
	return e.Type
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrBatchFailed is returned when one batch write is rejected by the store.
// Batches committed before it stay committed; re-running the stage is safe.
type ErrBatchFailed struct {
	*BaseError
	Stage  string // upsert, demographics, wiring, embedding
	Target string // node label or relationship type
	Batch  int
}

func NewBatchFailed(stage, target string, batch int, err error) *ErrBatchFailed {
	return &ErrBatchFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("%s %s: batch %d failed", stage, target, batch), err),
		Stage:     stage,
		Target:    target,
		Batch:     batch,
	}
}

// ErrInvalidIdentifier is returned when a label, property or relationship
// name cannot be safely placed into a Cypher statement
type ErrInvalidIdentifier struct {
	*BaseError
	Name string
}

func NewInvalidIdentifier(name string) *ErrInvalidIdentifier {
	return &ErrInvalidIdentifier{
		BaseError: NewBaseError(ErrorTypeInput, fmt.Sprintf("invalid identifier: %q", name), nil),
		Name:      name,
	}
}

// Embedding Errors

// ErrEmbeddingFailed is returned when the embedding provider keeps failing
type ErrEmbeddingFailed struct {
	*BaseError
	Model    string
	Attempts int
}

func NewEmbeddingFailed(model string, attempts int, err error) *ErrEmbeddingFailed {
	return &ErrEmbeddingFailed{
		BaseError: NewBaseError(ErrorTypeEmbedding, fmt.Sprintf("embedding request failed after %d attempts", attempts), err),
		Model:     model,
		Attempts:  attempts,
	}
}

// ErrEmbeddingDimension is returned when a provider vector does not match the index dimension
type ErrEmbeddingDimension struct {
	*BaseError
	Want int
	Got  int
}

func NewEmbeddingDimension(want, got int) *ErrEmbeddingDimension {
	return &ErrEmbeddingDimension{
		BaseError: NewBaseError(ErrorTypeEmbedding, fmt.Sprintf("embedding dimension mismatch: want %d, got %d", want, got), nil),
		Want:      want,
		Got:       got,
	}
}

// Context Errors

// ErrContextCancelled is returned when context is cancelled
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

type kinded interface {
	Kind() ErrorType
}

// IsErrorType checks if an error, or any error it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		var k kinded
		if !errors.As(err, &k) {
			return false
		}
		if k.Kind() == errType {
			return true
		}
		// Continue below the matched error
		inner, ok := k.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = inner.Unwrap()
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	// Context errors are not retryable
	if IsErrorType(err, ErrorTypeContext) || IsErrorType(err, ErrorTypeConfig) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsErrorType(err, ErrorTypeGraph) {
		return true
	}
	return IsErrorType(err, ErrorTypeEmbedding)
}
