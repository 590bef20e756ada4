package apperr

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Error codes
const (
	// Sync errors
	CodeInvalidAddress     = "INVALID_ADDRESS"
	CodeUnsupportedDomain  = "UNSUPPORTED_DOMAIN"
	CodeMissingCredentials = "MISSING_CREDENTIALS"
	CodeFolderOpenError    = "FOLDER_OPEN_ERROR"
	CodeEnumerationError   = "ENUMERATION_ERROR"
	CodeBatchFetchError    = "BATCH_FETCH_ERROR"
	CodeBatchWriteError    = "BATCH_WRITE_ERROR"
	CodeSessionError       = "SESSION_ERROR"
	CodeSyncInProgress     = "SYNC_IN_PROGRESS"
	CodeRateLimited        = "RATE_LIMITED"

	// Auth errors
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"

	// Validation errors
	CodeBadRequest   = "BAD_REQUEST"
	CodeMissingField = "MISSING_FIELD"

	// Resource errors
	CodeNotFound = "NOT_FOUND"

	// External errors
	CodeDatabaseError = "DATABASE_ERROR"
	CodeExternalError = "EXTERNAL_ERROR"

	// Internal errors
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// =============================================================================
// Sync errors
// =============================================================================

func InvalidAddress(address string) *AppError {
	return &AppError{
		Code:    CodeInvalidAddress,
		Message: fmt.Sprintf("address has no domain: %q", address),
		Status:  http.StatusBadRequest,
	}
}

func UnsupportedDomain(domain string) *AppError {
	return &AppError{
		Code:    CodeUnsupportedDomain,
		Message: fmt.Sprintf("no provider configured for domain %s", domain),
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]any{"domain": domain},
	}
}

func MissingCredentials(domain string) *AppError {
	return &AppError{
		Code:    CodeMissingCredentials,
		Message: fmt.Sprintf("no usable credential for %s", domain),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"domain": domain},
	}
}

func SessionError(host string, err error) *AppError {
	return &AppError{
		Code:    CodeSessionError,
		Message: fmt.Sprintf("mail session failed: %s", host),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"host": host},
		Err:     err,
	}
}

func FolderOpenError(tried []string, err error) *AppError {
	return &AppError{
		Code:    CodeFolderOpenError,
		Message: "no candidate folder could be opened",
		Status:  http.StatusBadGateway,
		Details: map[string]any{"tried": tried},
		Err:     err,
	}
}

func EnumerationError(folder string, err error) *AppError {
	return &AppError{
		Code:    CodeEnumerationError,
		Message: fmt.Sprintf("search failed in folder %s", folder),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"folder": folder},
		Err:     err,
	}
}

func BatchFetchError(batch int, err error) *AppError {
	return &AppError{
		Code:    CodeBatchFetchError,
		Message: fmt.Sprintf("fetch failed for batch %d", batch),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"batch": batch},
		Err:     err,
	}
}

func BatchWriteError(batch int, err error) *AppError {
	return &AppError{
		Code:    CodeBatchWriteError,
		Message: fmt.Sprintf("bulk write failed for batch %d", batch),
		Status:  http.StatusInternalServerError,
		Details: map[string]any{"batch": batch},
		Err:     err,
	}
}

func SyncInProgress(address string) *AppError {
	return &AppError{
		Code:    CodeSyncInProgress,
		Message: fmt.Sprintf("a sync is already running for %s", address),
		Status:  http.StatusConflict,
	}
}

func RateLimited(address string, retryAfter time.Duration) *AppError {
	err := &AppError{
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("too many sync requests for %s", address),
		Status:  http.StatusTooManyRequests,
	}
	return err.WithDetail("retry_after_seconds", int(math.Ceil(retryAfter.Seconds())))
}

// Auth errors
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

func InvalidToken(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidToken,
		Message: message,
		Status:  http.StatusUnauthorized,
	}
}

// Validation errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func MissingField(field string) *AppError {
	return &AppError{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("missing required field: %s", field),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// Resource errors
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

// External errors
func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Internal errors
func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal server error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of err, or "" when err is nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return AsAppError(err).Code
}
