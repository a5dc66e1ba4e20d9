// Package errors provides structured error types and handling utilities
// for the timetracker Jira integration.
package errors

import (
	"log/slog"
	"net/http"
	"time"
)

// ErrorCode represents a specific error condition
type ErrorCode string

// Error codes
const (
	ErrCodeInvalidRequest   ErrorCode = "INVALID_REQUEST"
	ErrCodeUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"

	// JIRA_UNAUTHORIZED and JIRA_NOT_FOUND refine JIRA_API_ERROR;
	// IsJiraAPIError matches all three.
	ErrCodeJiraAPIError     ErrorCode = "JIRA_API_ERROR"
	ErrCodeJiraUnauthorized ErrorCode = "JIRA_UNAUTHORIZED"
	ErrCodeJiraNotFound     ErrorCode = "JIRA_NOT_FOUND"
)

// ErrorCategory groups codes by who is at fault
type ErrorCategory string

// Error categories
const (
	CategoryClientError   ErrorCategory = "CLIENT_ERROR"
	CategoryServerError   ErrorCategory = "SERVER_ERROR"
	CategoryExternalError ErrorCategory = "EXTERNAL_ERROR"
	CategoryAuthError     ErrorCategory = "AUTH_ERROR"
)

// Severity drives the log level an error is reported with
type Severity string

// Severity levels
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

type codeMeta struct {
	status      int
	category    ErrorCategory
	severity    Severity
	userMessage string
}

var codes = map[ErrorCode]codeMeta{
	ErrCodeInvalidRequest: {http.StatusBadRequest, CategoryClientError, SeverityLow,
		"The request contains invalid data. Please check your input and try again."},
	ErrCodeValidationFailed: {http.StatusBadRequest, CategoryClientError, SeverityMedium,
		"The request contains invalid data. Please check your input and try again."},
	ErrCodeUnauthorized: {http.StatusUnauthorized, CategoryClientError, SeverityMedium,
		"Authentication failed. Please check your credentials."},
	ErrCodeNotFound: {http.StatusNotFound, CategoryClientError, SeverityLow,
		"The requested resource was not found."},
	ErrCodeRateLimited: {http.StatusTooManyRequests, CategoryClientError, SeverityMedium,
		"Too many requests. Please wait and try again later."},
	ErrCodeDatabaseError: {http.StatusInternalServerError, CategoryServerError, SeverityCritical,
		"An unexpected error occurred. Please try again or contact support."},
	ErrCodeJiraAPIError: {http.StatusBadGateway, CategoryExternalError, SeverityMedium,
		"Jira API is experiencing issues. Please try again later."},
	ErrCodeJiraUnauthorized: {http.StatusUnauthorized, CategoryAuthError, SeverityMedium,
		"Jira access is not authorized. Please connect your Jira account again."},
	ErrCodeJiraNotFound: {http.StatusNotFound, CategoryExternalError, SeverityLow,
		"The Jira resource does not exist."},
}

var internalMeta = codeMeta{http.StatusInternalServerError, CategoryServerError, SeverityCritical,
	"An unexpected error occurred. Please try again or contact support."}

func metaFor(code ErrorCode) codeMeta {
	if meta, ok := codes[code]; ok {
		return meta
	}
	return internalMeta
}

// ServiceError represents a structured error with context
type ServiceError struct {
	Code        ErrorCode
	Category    ErrorCategory
	Severity    Severity
	Message     string
	Details     string
	Context     map[string]interface{}
	Cause       error
	Timestamp   time.Time
	RequestID   string
	UserMessage string
}

// Error returns the human readable message. The cause is reachable via Unwrap.
func (e *ServiceError) Error() string {
	return e.Message
}

// Unwrap allows errors.Is and errors.As to work with wrapped errors
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// HTTPStatusCode returns the status the HTTP surface answers with
func (e *ServiceError) HTTPStatusCode() int {
	return metaFor(e.Code).status
}

// LogValue implements slog.LogValuer
func (e *ServiceError) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", string(e.Code)),
		slog.String("message", e.Message),
	}
	if e.Details != "" {
		attrs = append(attrs, slog.String("details", e.Details))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	return slog.GroupValue(attrs...)
}

// ErrorBuilder helps construct ServiceError instances
type ErrorBuilder struct {
	error *ServiceError
}

// NewError creates a new ErrorBuilder
func NewError(code ErrorCode) *ErrorBuilder {
	return &ErrorBuilder{
		error: &ServiceError{
			Code:      code,
			Timestamp: time.Now(),
			Context:   make(map[string]interface{}),
		},
	}
}

// WithCategory overrides the category derived from the code
func (b *ErrorBuilder) WithCategory(category ErrorCategory) *ErrorBuilder {
	b.error.Category = category
	return b
}

// WithSeverity overrides the severity derived from the code
func (b *ErrorBuilder) WithSeverity(severity Severity) *ErrorBuilder {
	b.error.Severity = severity
	return b
}

// WithMessage sets the error message
func (b *ErrorBuilder) WithMessage(message string) *ErrorBuilder {
	b.error.Message = message
	return b
}

// WithDetails sets additional error details
func (b *ErrorBuilder) WithDetails(details string) *ErrorBuilder {
	b.error.Details = details
	return b
}

// WithCause sets the underlying cause
func (b *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	b.error.Cause = cause
	return b
}

// WithContext adds context information
func (b *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	b.error.Context[key] = value
	return b
}

// WithUserMessage sets the message shown to end users
func (b *ErrorBuilder) WithUserMessage(message string) *ErrorBuilder {
	b.error.UserMessage = message
	return b
}

// Build returns the constructed ServiceError
func (b *ErrorBuilder) Build() *ServiceError {
	meta := metaFor(b.error.Code)
	if b.error.Category == "" {
		b.error.Category = meta.category
	}
	if b.error.Severity == "" {
		b.error.Severity = meta.severity
	}
	return b.error
}

// ErrorResponse is the JSON body of a failed HTTP request
type ErrorResponse struct {
	Error       ErrorCode              `json:"error"`
	Message     string                 `json:"message"`
	Details     string                 `json:"details,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	RequestID   string                 `json:"request_id,omitempty"`
	UserMessage string                 `json:"user_message,omitempty"`
}

// ToErrorResponse converts ServiceError to ErrorResponse for API responses
func (e *ServiceError) ToErrorResponse() *ErrorResponse {
	userMessage := e.UserMessage
	if userMessage == "" {
		userMessage = metaFor(e.Code).userMessage
	}

	return &ErrorResponse{
		Error:       e.Code,
		Message:     e.Message,
		Details:     e.Details,
		Context:     e.Context,
		Timestamp:   e.Timestamp,
		RequestID:   e.RequestID,
		UserMessage: userMessage,
	}
}
