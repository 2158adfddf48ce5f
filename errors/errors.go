package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is the custom error type for the application
type AppError struct {
	Raw       error
	HTTPCode  int
	Code      ErrorCode
	Message   string
	Details   map[string]string
	Timestamp time.Time
}

// Error implements error interface
func (e AppError) Error() string {
	if e.Raw != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code.String(), e.Message, e.Raw)
	}
	return fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
}

// Unwrap exposes the wrapped error to errors.Is/As
func (e AppError) Unwrap() error {
	return e.Raw
}

// WithDetail adds a detail to the error
func (e AppError) WithDetail(key, value string) AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// General errors

func ErrInternal(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_INTERNAL,
		Message:  "Internal server error",
	}
}

func ErrInvalidArgument(message string) AppError {
	return AppError{
		HTTPCode: http.StatusBadRequest,
		Code:     ErrorCode_INVALID_ARGUMENT,
		Message:  message,
	}
}

func ErrNotFound(resource string) AppError {
	return AppError{
		HTTPCode: http.StatusNotFound,
		Code:     ErrorCode_NOT_FOUND,
		Message:  fmt.Sprintf("%s not found", resource),
	}
}

func ErrUnauthenticated() AppError {
	return AppError{
		HTTPCode: http.StatusUnauthorized,
		Code:     ErrorCode_UNAUTHENTICATED,
		Message:  "Authentication required",
	}
}

func ErrInvalidPayload() AppError {
	return AppError{
		HTTPCode: http.StatusBadRequest,
		Code:     ErrorCode_INVALID_PAYLOAD,
		Message:  "Invalid payload",
	}
}

// Meeting errors

func ErrMeetingNotFound(meetingID string) AppError {
	return AppError{
		HTTPCode: http.StatusNotFound,
		Code:     ErrorCode_NOT_FOUND,
		Message:  "Meeting not found",
	}.WithDetail("meeting_id", meetingID)
}

func ErrRecordingNotFound(recordingHandle string) AppError {
	return AppError{
		HTTPCode: http.StatusNotFound,
		Code:     ErrorCode_RECORDING_NOT_FOUND,
		Message:  "No meeting for recording handle",
	}.WithDetail("recording_handle", recordingHandle)
}

func ErrHandleInUse(recordingHandle string) AppError {
	return AppError{
		HTTPCode: http.StatusConflict,
		Code:     ErrorCode_ALREADY_EXISTS,
		Message:  "Recording handle already assigned to an in-flight meeting",
	}.WithDetail("recording_handle", recordingHandle)
}

// Pipeline errors

// ErrTransient marks an error as retryable: network failures, timeouts, and
// not-ready-yet responses from the provider.
func ErrTransient(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusServiceUnavailable,
		Code:     ErrorCode_TRANSIENT,
		Message:  "Transient provider error",
	}
}

// ErrProviderFailed marks a definitive provider-reported failure. It is
// terminal: the pipeline records it on the meeting and never retries.
func ErrProviderFailed(message string) AppError {
	return AppError{
		HTTPCode: http.StatusBadGateway,
		Code:     ErrorCode_PROVIDER_FAILED,
		Message:  message,
	}
}

// ErrCorrelationFailed indicates an event that could not be matched to any
// meeting. This points at a data-consistency bug, not a transient condition.
func ErrCorrelationFailed(identifier, value string) AppError {
	return AppError{
		HTTPCode: http.StatusNotFound,
		Code:     ErrorCode_CORRELATION_FAILED,
		Message:  "No meeting matches event identifiers",
	}.WithDetail(identifier, value)
}

func ErrStageTimeout(stage string, attempts int) AppError {
	return AppError{
		HTTPCode: http.StatusGatewayTimeout,
		Code:     ErrorCode_STAGE_TIMEOUT,
		Message:  "Pipeline stage timed out",
	}.WithDetail("stage", stage).
		WithDetail("attempts", fmt.Sprintf("%d", attempts))
}

func ErrUnrecognizedState(meetingID string) AppError {
	return AppError{
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_UNRECOGNIZED_STATE,
		Message:  "Meeting fields do not map to any pipeline stage",
	}.WithDetail("meeting_id", meetingID)
}

func ErrDuplicateHandoff(recordingHandle string) AppError {
	return AppError{
		HTTPCode: http.StatusConflict,
		Code:     ErrorCode_DUPLICATE_HANDOFF,
		Message:  "Stop handoff already performed for handle",
	}.WithDetail("recording_handle", recordingHandle)
}

func ErrCredentialFailed(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusBadGateway,
		Code:     ErrorCode_CREDENTIAL_FAILED,
		Message:  "Failed to obtain upload credential",
	}
}

func ErrAgentFailed(operation string, err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusBadGateway,
		Code:     ErrorCode_AGENT_FAILED,
		Message:  fmt.Sprintf("Device agent operation failed: %s", operation),
	}
}

func ErrSummaryFailed(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_SUMMARY_FAILED,
		Message:  "Failed to generate summary",
	}
}

func ErrArchiveFailed(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_ARCHIVE_FAILED,
		Message:  "Failed to archive transcript export",
	}
}

// Store errors

func ErrStoreMutationFailed(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_STORE_MUTATION_FAILED,
		Message:  "Store mutation failed",
	}
}

func ErrStoreClosed() AppError {
	return AppError{
		HTTPCode: http.StatusServiceUnavailable,
		Code:     ErrorCode_STORE_CLOSED,
		Message:  "Store is shut down",
	}
}

func ErrMigrationFailed(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_MIGRATION_FAILED,
		Message:  "Legacy store migration failed",
	}
}

// Database errors

func ErrDBConnectionFailed(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_DB_CONNECTION_FAILED,
		Message:  "Database connection failed",
	}
}

func ErrDBQueryFailed(query string, err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_DB_QUERY_FAILED,
		Message:  "Database query failed",
	}.WithDetail("query", query)
}

func ErrDBTransactionFailed(err error) AppError {
	return AppError{
		Raw:      err,
		HTTPCode: http.StatusInternalServerError,
		Code:     ErrorCode_DB_TX_FAILED,
		Message:  "Database transaction failed",
	}
}

// IsTransient reports whether err should be retried by the pipeline.
func IsTransient(err error) bool {
	var appErr AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == ErrorCode_TRANSIENT
	}
	return false
}

// IsProviderFailure reports whether err is a definitive provider failure.
func IsProviderFailure(err error) bool {
	var appErr AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == ErrorCode_PROVIDER_FAILED
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or ErrorCode_INTERNAL.
func CodeOf(err error) ErrorCode {
	var appErr AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrorCode_INTERNAL
}
