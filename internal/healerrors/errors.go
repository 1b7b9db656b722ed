// Package healerrors provides sentinel and custom error types for the healer.
//
// Every type implements Is so callers can match on the category with errors.Is
// regardless of the message or wrapped cause.
package healerrors

import "strconv"

// ErrNotFound represents a "not found" error.
// Use when a requested record doesn't exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError is a sentinel error for records that are not found.
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new NotFoundError with a custom message.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return e.Resource + " not found"
	}

	return "record not found"
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// ErrValidation represents a validation error.
// Use when input (e.g. record metadata) fails validation at a boundary.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrEmbeddingUnavailable is the sentinel for an embedding backend that cannot produce vectors.
// Similarity Memory treats it as fatal to itself for the run and degrades to always-miss.
var ErrEmbeddingUnavailable = &EmbeddingUnavailableError{}

// EmbeddingUnavailableError wraps the cause reported by the embedding backend.
type EmbeddingUnavailableError struct {
	Provider string
	Err      error
}

// NewEmbeddingUnavailableError creates an EmbeddingUnavailableError for provider.
func NewEmbeddingUnavailableError(provider string, err error) *EmbeddingUnavailableError {
	return &EmbeddingUnavailableError{Provider: provider, Err: err}
}

// Error implements the error interface.
func (e *EmbeddingUnavailableError) Error() string {
	msg := "embedding model unavailable"
	if e.Provider != "" {
		msg += " (" + e.Provider + ")"
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *EmbeddingUnavailableError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *EmbeddingUnavailableError) Is(target error) bool {
	_, ok := target.(*EmbeddingUnavailableError)

	return ok
}

// ErrIndexIO is the sentinel for vector index storage failures.
// Reads may be retried; writes must be surfaced to the caller.
var ErrIndexIO = &IndexIOError{}

// IndexIOError reports a failed read or write against the vector index storage.
type IndexIOError struct {
	Op         string
	Collection string
	Err        error
}

// NewIndexIOError creates an IndexIOError for the given operation and collection.
func NewIndexIOError(op, collection string, err error) *IndexIOError {
	return &IndexIOError{Op: op, Collection: collection, Err: err}
}

// Error implements the error interface.
func (e *IndexIOError) Error() string {
	msg := "index " + e.Op
	if e.Collection != "" {
		msg += " " + e.Collection
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *IndexIOError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *IndexIOError) Is(target error) bool {
	_, ok := target.(*IndexIOError)

	return ok
}

// ErrReasoner is the sentinel for failed Reasoner calls (after retries when wrapped by a retry policy).
var ErrReasoner = &ReasonerError{}

// ReasonerError reports a failed classify or heal call.
type ReasonerError struct {
	Op        string
	Retryable bool
	Err       error
}

// NewReasonerError creates a ReasonerError for op.
func NewReasonerError(op string, retryable bool, err error) *ReasonerError {
	return &ReasonerError{Op: op, Retryable: retryable, Err: err}
}

// Error implements the error interface.
func (e *ReasonerError) Error() string {
	msg := "reasoner " + e.Op + " failed"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying cause.
func (e *ReasonerError) Unwrap() error { return e.Err }

// Is implements the error interface for error comparison.
func (e *ReasonerError) Is(target error) bool {
	_, ok := target.(*ReasonerError)

	return ok
}

// ErrRunnerTimeout is the sentinel for a test execution that hit its wall-clock limit.
// It is reported as a failed execution, never as a system error.
var ErrRunnerTimeout = &RunnerTimeoutError{}

// RunnerTimeoutError carries the test id and the limit that was exceeded.
type RunnerTimeoutError struct {
	TestID  string
	Seconds int
}

// NewRunnerTimeoutError creates a RunnerTimeoutError.
func NewRunnerTimeoutError(testID string, seconds int) *RunnerTimeoutError {
	return &RunnerTimeoutError{TestID: testID, Seconds: seconds}
}

// Error implements the error interface.
func (e *RunnerTimeoutError) Error() string {
	return "Test execution timed out after " + strconv.Itoa(e.Seconds) + " seconds"
}

// Is implements the error interface for error comparison.
func (e *RunnerTimeoutError) Is(target error) bool {
	_, ok := target.(*RunnerTimeoutError)

	return ok
}

// ErrConfigInconsistency is the sentinel for contradictory configuration or stored state.
// Consumers fail closed: a lookup that hits it is rejected, never accepted.
var ErrConfigInconsistency = &ConfigInconsistencyError{}

// ConfigInconsistencyError describes which settings or values conflict.
type ConfigInconsistencyError struct {
	Message string
}

// NewConfigInconsistencyError creates a ConfigInconsistencyError with a custom message.
func NewConfigInconsistencyError(message string) *ConfigInconsistencyError {
	return &ConfigInconsistencyError{Message: message}
}

// Error implements the error interface.
func (e *ConfigInconsistencyError) Error() string {
	if e.Message != "" {
		return "config inconsistency: " + e.Message
	}

	return "config inconsistency"
}

// Is implements the error interface for error comparison.
func (e *ConfigInconsistencyError) Is(target error) bool {
	_, ok := target.(*ConfigInconsistencyError)

	return ok
}
