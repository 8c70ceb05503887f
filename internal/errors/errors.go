// Package errors defines the error taxonomy shared by the ingestion and
// delivery subsystems. Row-level validation errors are recoverable and never
// abort a job; stream errors are fatal; conflict errors abort a single batch;
// delivery errors drive the retry schedule; confirmation errors reject
// destructive operations with zero side effects.
package errors

import (
	"errors"
	"fmt"
)

// ValidationError describes a single rejected input row. It is recorded in
// the job's bounded error-sample list and processing continues.
type ValidationError struct {
	Line   int
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// NewValidationError creates a row-level validation error.
func NewValidationError(line int, reason string) *ValidationError {
	return &ValidationError{Line: line, Reason: reason}
}

// StreamError is fatal: the input cannot be read, decoded, or its header is
// missing required columns. The job transitions straight to failed.
type StreamError struct {
	Stage   string // open, decode, header
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream error (%s): %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("stream error (%s): %s", e.Stage, e.Message)
}

// Unwrap returns the underlying cause.
func (e *StreamError) Unwrap() error { return e.Cause }

// NewStreamError creates a fatal stream error.
func NewStreamError(stage, message string, cause error) *StreamError {
	return &StreamError{Stage: stage, Message: message, Cause: cause}
}

// ConflictError is a batch-scoped storage failure. Only the current batch is
// rolled back; Offset is the 1-based row number of the first row in the
// failing batch so upstream accounting stays exact.
type ConflictError struct {
	Offset int
	Cause  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("batch starting at row %d failed: %v", e.Offset, e.Cause)
}

func (e *ConflictError) Unwrap() error { return e.Cause }

// NewConflictError creates a batch-scoped storage error.
func NewConflictError(offset int, cause error) *ConflictError {
	return &ConflictError{Offset: offset, Cause: cause}
}

// DeliveryError describes one failed outbound delivery attempt. It becomes
// permanent only after the retry budget is exhausted.
type DeliveryError struct {
	WebhookID  int64
	Attempt    int
	StatusCode int // 0 when the request never completed
	Message    string
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("delivery to webhook %d failed on attempt %d: status %d", e.WebhookID, e.Attempt, e.StatusCode)
	}
	return fmt.Sprintf("delivery to webhook %d failed on attempt %d: %s", e.WebhookID, e.Attempt, e.Message)
}

func (e *DeliveryError) Unwrap() error { return e.Cause }

// ConfirmationError rejects a destructive bulk operation whose typed
// confirmation phrase did not match.
type ConfirmationError struct {
	Expected string
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirmation phrase must be %q", e.Expected)
}

// IsValidation reports whether err is a row-level validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStream reports whether err is a fatal stream error.
func IsStream(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}

// IsConflict reports whether err is a batch-scoped storage error.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsConfirmation reports whether err is a rejected confirmation phrase.
func IsConfirmation(err error) bool {
	var ce *ConfirmationError
	return errors.As(err, &ce)
}
