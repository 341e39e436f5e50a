// Package errors provides standardized error handling for the prediction service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeModelUnavailable      ErrorCode = "MODEL_UNAVAILABLE"
	ErrCodeMissingFeature        ErrorCode = "MISSING_FEATURE"
	ErrCodePredictionFailed      ErrorCode = "PREDICTION_FAILED"
	ErrCodeSchemaVersionMismatch ErrorCode = "SCHEMA_VERSION_MISMATCH"
	ErrCodeMetadataInvalid       ErrorCode = "METADATA_INVALID"

	ErrCodeInsufficientTrainingData ErrorCode = "INSUFFICIENT_TRAINING_DATA"
	ErrCodeTrainingFailed           ErrorCode = "TRAINING_FAILED"
	ErrCodeNoData                   ErrorCode = "NO_DATA"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"

	ErrCodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewModelUnavailableError signals that a required model artifact is missing
// or failed to load.
func NewModelUnavailableError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeModelUnavailable,
		Message:   "price model is not loaded",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingFeatureError reports every schema column absent after feature
// derivation, together with the expected and received column lists.
func NewMissingFeatureError(missing, expected, received []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingFeature,
		Message:   fmt.Sprintf("missing columns: %v", missing),
		Retryable: false,
		Metadata: map[string]interface{}{
			"missing":  missing,
			"expected": expected,
			"received": received,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewPredictionFailedError wraps an inference failure, preserving the cause.
func NewPredictionFailedError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodePredictionFailed,
		Message:   "model inference failed",
		Details:   cause.Error(),
		Retryable: false,
		Metadata:  map[string]interface{}{"cause": fmt.Sprintf("%T", cause)},
		Timestamp: time.Now().UTC(),
	}
}

// NewSchemaVersionMismatchError is raised at load time when the metadata
// artifact's schema version does not match what the code expects.
func NewSchemaVersionMismatchError(expected, got int) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchemaVersionMismatch,
		Message:   fmt.Sprintf("metadata schema version %d, expected %d", got, expected),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMetadataInvalidError is raised when the metadata artifact fails
// JSON-schema validation.
func NewMetadataInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMetadataInvalid,
		Message:   "metadata artifact failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInsufficientTrainingDataError is a degraded-capability signal, not a
// hard failure: the ML half of the SOH blend is simply unavailable.
func NewInsufficientTrainingDataError(rows, required int) *StandardError {
	return &StandardError{
		Code:      ErrCodeInsufficientTrainingData,
		Message:   fmt.Sprintf("%d valid rows, %d required for training", rows, required),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTrainingFailedError wraps a model-fitting failure.
func NewTrainingFailedError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTrainingFailed,
		Message:   "SOH model training failed",
		Details:   cause.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoDataError reports an empty filter result.
func NewNoDataError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoData,
		Message:   "no data for requested filter",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionError wraps a database failure.
func NewQueryExecutionError(cause error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "query execution failed",
		Details:   cause.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidRequestError reports a malformed client request.
func NewInvalidRequestError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRequest,
		Message:   "invalid request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Helpers
// ==========================

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// HTTPStatus maps an error code to the status the API layer responds with.
// Validation-class failures are client errors; a missing model is a server
// condition and reported distinctly.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeModelUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeMissingFeature, ErrCodePredictionFailed, ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeNoData:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
