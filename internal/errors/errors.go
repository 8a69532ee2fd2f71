package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/weather-collector/internal/types"
)

// Category classifies an error by how the pipeline should react to it
type Category string

const (
	// CategoryTransientFetch represents provider failures worth retrying (timeout, 5xx)
	CategoryTransientFetch Category = "transient_fetch"
	// CategoryPermanentFetch represents provider failures that will not recover (bad key, exhausted retries)
	CategoryPermanentFetch Category = "permanent_fetch"
	// CategoryInvalidLocation represents an unknown or malformed location query
	CategoryInvalidLocation Category = "invalid_location"
	// CategoryRateLimited represents a provider quota rejection
	CategoryRateLimited Category = "rate_limited"
	// CategoryStoreWrite represents a per-record write rejection
	CategoryStoreWrite Category = "store_write"
	// CategoryScheduling represents job scheduling failures (overlap, exhausted backfill)
	CategoryScheduling Category = "scheduling"
	// CategoryValidation represents invalid caller input
	CategoryValidation Category = "validation"
	// CategoryNotFound represents a missing resource
	CategoryNotFound Category = "not_found"
	// CategoryUnauthorized represents a failed auth check
	CategoryUnauthorized Category = "unauthorized"
	// CategoryDatabase represents storage engine failures
	CategoryDatabase Category = "database"
	// CategoryConfiguration represents invalid or missing configuration
	CategoryConfiguration Category = "configuration"
	// CategorySystem represents everything else (5xx)
	CategorySystem Category = "system"
)

// CategorizedError carries a category, a stable code, and an HTTP status
// alongside the message, so every layer can decide locally how to react.
type CategorizedError struct {
	Category   Category
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to the API-facing error payload.
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// Fetch errors

// NewTransientFetchError marks a provider failure that should be retried.
func NewTransientFetchError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryTransientFetch,
		StatusCode: http.StatusBadGateway,
		Code:       "TRANSIENT_FETCH_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewPermanentFetchError marks a provider failure that retrying cannot fix.
func NewPermanentFetchError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPermanentFetch,
		StatusCode: http.StatusBadGateway,
		Code:       "PERMANENT_FETCH_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// NewInvalidLocationError marks a location the provider does not recognize.
func NewInvalidLocationError(location string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvalidLocation,
		StatusCode: http.StatusNotFound,
		Code:       "INVALID_LOCATION",
		Message:    fmt.Sprintf("location not recognized by provider: %s", location),
		Details: map[string]interface{}{
			"location": location,
		},
	}
}

// NewProviderRateLimitError marks a provider quota rejection.
func NewProviderRateLimitError(retryAfter int) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryRateLimited,
		StatusCode: http.StatusTooManyRequests,
		Code:       "PROVIDER_RATE_LIMITED",
		Message:    "provider rate limit exceeded",
		Details: map[string]interface{}{
			"retryAfterSeconds": retryAfter,
		},
	}
}

// Store errors

// NewStoreWriteError marks a single record rejected by the store.
func NewStoreWriteError(reason string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryStoreWrite,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "STORE_WRITE_ERROR",
		Message:    reason,
		Cause:      cause,
	}
}

// NewDatabaseError marks a storage engine failure.
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       "DATABASE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Scheduling errors

// NewSchedulingError marks a job scheduling failure.
func NewSchedulingError(job string, message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryScheduling,
		StatusCode: http.StatusConflict,
		Code:       "SCHEDULING_ERROR",
		Message:    message,
		Details: map[string]interface{}{
			"job": job,
		},
	}
}

// API-facing errors

// NewValidationError marks invalid caller input.
func NewValidationError(param string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_PARAMETER",
		Message:    fmt.Sprintf("invalid parameter '%s': %s", param, reason),
		Details: map[string]interface{}{
			"parameter": param,
			"reason":    reason,
		},
	}
}

// NewNotFoundError marks a missing resource.
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewUnauthorizedError marks a failed auth check.
func NewUnauthorizedError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryUnauthorized,
		StatusCode: http.StatusUnauthorized,
		Code:       "UNAUTHORIZED",
		Message:    message,
	}
}

// NewConfigurationError marks invalid or missing configuration.
func NewConfigurationError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConfiguration,
		StatusCode: http.StatusInternalServerError,
		Code:       "CONFIGURATION_ERROR",
		Message:    fmt.Sprintf("configuration field '%s': %s", field, reason),
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// NewInternalError wraps everything else.
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// RetryAfterHint returns the provider-suggested wait before retrying, zero
// when the error carries none.
func (e *CategorizedError) RetryAfterHint() time.Duration {
	if e.Details == nil {
		return 0
	}
	if secs, ok := e.Details["retryAfterSeconds"].(int); ok && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Categorize returns the CategorizedError within err, wrapping uncategorized
// errors as internal.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

// CategoryOf returns the category of err, or CategorySystem for plain errors.
func CategoryOf(err error) Category {
	if catErr := Categorize(err); catErr != nil {
		return catErr.Category
	}
	return CategorySystem
}

// HTTPStatus returns the HTTP status code an error should map to.
func HTTPStatus(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether the fetch layer should retry after err.
func IsRetryable(err error) bool {
	switch CategoryOf(err) {
	case CategoryTransientFetch, CategoryRateLimited:
		return true
	default:
		return false
	}
}

// ExhaustRetries converts a retryable error into its permanent form after the
// attempt cap was reached. Non-retryable errors pass through unchanged.
func ExhaustRetries(err error, attempts int) error {
	if err == nil || !IsRetryable(err) {
		return err
	}
	return &CategorizedError{
		Category:   CategoryPermanentFetch,
		StatusCode: http.StatusBadGateway,
		Code:       "RETRIES_EXHAUSTED",
		Message:    fmt.Sprintf("giving up after %d attempts", attempts),
		Cause:      err,
		Details: map[string]interface{}{
			"attempts": attempts,
		},
	}
}
