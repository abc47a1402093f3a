// Package errors provides the structured error taxonomy shared by every
// buildforge component: pipeline phase handlers, MCP clients, scanners, and
// the CLI all construct and inspect AppError rather than raw strings.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for HTTP mapping, logging, and the
// pipeline engine's retry/halt policy (spec.md §7).
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"

	// Pipeline-specific kinds from spec.md §7's error taxonomy table.
	ErrorTypeUserError           ErrorType = "user_error"
	ErrorTypeTransientPhase      ErrorType = "transient_phase"
	ErrorTypeBuilderFailure      ErrorType = "builder_failure"
	ErrorTypeQualityGateFailure  ErrorType = "quality_gate_failure"
	ErrorTypeBudgetExceeded      ErrorType = "budget_exceeded"
	ErrorTypeShutdownRequested   ErrorType = "shutdown_requested"
	ErrorTypeStoreIO             ErrorType = "store_io"
	ErrorTypeGraphRAGUnavailable ErrorType = "graph_rag_unavailable"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:          http.StatusBadRequest,
	ErrorTypeAuth:                http.StatusUnauthorized,
	ErrorTypeNotFound:            http.StatusNotFound,
	ErrorTypeConflict:            http.StatusConflict,
	ErrorTypeTimeout:             http.StatusRequestTimeout,
	ErrorTypeRateLimit:           http.StatusTooManyRequests,
	ErrorTypeDatabase:            http.StatusInternalServerError,
	ErrorTypeNetwork:             http.StatusInternalServerError,
	ErrorTypeInternal:            http.StatusInternalServerError,
	ErrorTypeUserError:           http.StatusBadRequest,
	ErrorTypeTransientPhase:      http.StatusServiceUnavailable,
	ErrorTypeBuilderFailure:      http.StatusUnprocessableEntity,
	ErrorTypeQualityGateFailure:  http.StatusUnprocessableEntity,
	ErrorTypeBudgetExceeded:      http.StatusPaymentRequired,
	ErrorTypeShutdownRequested:   http.StatusServiceUnavailable,
	ErrorTypeStoreIO:             http.StatusInternalServerError,
	ErrorTypeGraphRAGUnavailable: http.StatusOK, // transparent fallback, never surfaced as a failure
}

var safeMessages = map[ErrorType]string{
	ErrorTypeNotFound:   "requested resource was not found",
	ErrorTypeAuth:       "authentication failed",
	ErrorTypeTimeout:    "operation timed out",
	ErrorTypeRateLimit:  "rate limit exceeded",
	ErrorTypeConflict:   "a concurrent modification occurred",
	ErrorTypeDatabase:   "An internal error occurred",
	ErrorTypeNetwork:    "An internal error occurred",
	ErrorTypeInternal:   "An internal error occurred",
	ErrorTypeStoreIO:    "An internal error occurred",
}

// ErrorMessages exposes the canned safe strings so callers can assert on
// them without re-deriving the map (mirrors the teacher's ErrorMessages
// constant table).
var ErrorMessages = struct {
	ResourceNotFound        string
	AuthenticationFailed    string
	OperationTimeout        string
	RateLimitExceeded       string
	ConcurrentModification  string
}{
	ResourceNotFound:       safeMessages[ErrorTypeNotFound],
	AuthenticationFailed:   safeMessages[ErrorTypeAuth],
	OperationTimeout:       safeMessages[ErrorTypeTimeout],
	RateLimitExceeded:      safeMessages[ErrorTypeRateLimit],
	ConcurrentModification: safeMessages[ErrorTypeConflict],
}

// AppError is the one error shape every buildforge component returns.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
		Cause:      cause,
	}
}

func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Predefined constructors, one per frequently-raised condition.

func NewValidationError(message string) *AppError { return New(ErrorTypeValidation, message) }

func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, resource+" not found")
}

func NewAuthError(message string) *AppError { return New(ErrorTypeAuth, message) }

func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, "operation timed out: "+operation)
}

func NewBudgetExceededError(totalCost, limit string) *AppError {
	return New(ErrorTypeBudgetExceeded, "budget exceeded").
		WithDetailsf("total_cost=%s limit=%s", totalCost, limit)
}

func NewStoreIOError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeStoreIO, "state store %s failed", operation)
}

func NewGraphRAGUnavailableError(cause error) *AppError {
	return Wrap(cause, ErrorTypeGraphRAGUnavailable, "graph rag unavailable, falling back")
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := asAppError(err)
	return ok && appErr.Type == t
}

// GetType returns the AppError's type, or ErrorTypeInternal for any other error.
func GetType(err error) ErrorType {
	if appErr, ok := asAppError(err); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status code to report for err.
func GetStatusCode(err error) int {
	if appErr, ok := asAppError(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func asAppError(err error) (*AppError, bool) {
	appErr, ok := err.(*AppError)
	return appErr, ok
}

// SafeErrorMessage returns a message safe to surface to an end user or a
// Slack notification: validation messages pass through verbatim (they
// describe user input), everything else is replaced by a canned string so
// internal details never leak.
func SafeErrorMessage(err error) string {
	appErr, ok := asAppError(err)
	if !ok {
		return "An unexpected error occurred"
	}
	if appErr.Type == ErrorTypeValidation {
		return appErr.Message
	}
	if msg, ok := safeMessages[appErr.Type]; ok {
		return msg
	}
	return "An internal error occurred"
}

// LogFields renders err into zap-style structured fields.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	appErr, ok := asAppError(err)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain concatenates a list of errors (nils filtered) into one error whose
// message is each constituent joined by " -> ". A single non-nil error is
// returned unwrapped; an empty or all-nil list returns nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	msg := nonNil[0].Error()
	for _, e := range nonNil[1:] {
		msg += " -> " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
