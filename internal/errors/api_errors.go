package errors

import (
	stderrors "errors"
	"fmt"
)

// Messages shared by the Jira layer
const (
	MsgUnauthorizedRedirect = "Unauthorized. Redirecting to Jira OAuth."
	MsgResourceNotFound     = "Resource not found"
	MsgNetworkError         = "Network error connecting to Jira"
	MsgInvalidJSON          = "Invalid JSON response from Jira"
	MsgEmptyResponse        = "Empty response"
)

// NewJiraAPIError creates the catch-all Jira error: malformed responses,
// network failures and generic 4xx/5xx answers.
func NewJiraAPIError(message string, cause error) *ServiceError {
	return NewError(ErrCodeJiraAPIError).
		WithMessage(message).
		WithCause(cause).
		Build()
}

// NewJiraAPIErrorf formats the message of a Jira API error
func NewJiraAPIErrorf(format string, args ...interface{}) *ServiceError {
	return NewJiraAPIError(fmt.Sprintf(format, args...), nil)
}

// NewJiraUnauthorizedError signals missing, invalid or revoked credentials.
// The caller has to restart the OAuth handshake.
func NewJiraUnauthorizedError(message string, cause error) *ServiceError {
	return NewError(ErrCodeJiraUnauthorized).
		WithMessage(message).
		WithCause(cause).
		Build()
}

// NewJiraInvalidResourceError signals a remote object that does not exist
func NewJiraInvalidResourceError(message string, cause error) *ServiceError {
	return NewError(ErrCodeJiraNotFound).
		WithMessage(message).
		WithCause(cause).
		Build()
}

// JiraHTTPError creates a structured error for a failed Jira response
func JiraHTTPError(statusCode int, message, operation string) *ServiceError {
	severity := SeverityMedium
	if statusCode >= 500 {
		severity = SeverityHigh
	}

	return NewError(ErrCodeJiraAPIError).
		WithSeverity(severity).
		WithMessage(message).
		WithContext("status_code", statusCode).
		WithContext("operation", operation).
		Build()
}

// ValidationError creates a structured error for validation failures
func ValidationError(field, message string) *ServiceError {
	return NewError(ErrCodeValidationFailed).
		WithMessage(fmt.Sprintf("Validation failed for field: %s", field)).
		WithDetails(message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message)).
		Build()
}

// asServiceError finds the outermost ServiceError in the chain
func asServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// IsJiraAPIError reports whether err belongs to the Jira error taxonomy,
// including the unauthorized and invalid-resource refinements.
func IsJiraAPIError(err error) bool {
	se, ok := asServiceError(err)
	if !ok {
		return false
	}
	switch se.Code {
	case ErrCodeJiraAPIError, ErrCodeJiraUnauthorized, ErrCodeJiraNotFound:
		return true
	default:
		return false
	}
}

// IsJiraUnauthorized reports whether err requires a new OAuth handshake
func IsJiraUnauthorized(err error) bool {
	se, ok := asServiceError(err)
	return ok && se.Code == ErrCodeJiraUnauthorized
}

// IsJiraInvalidResource reports whether err reports an absent remote object
func IsJiraInvalidResource(err error) bool {
	se, ok := asServiceError(err)
	return ok && se.Code == ErrCodeJiraNotFound
}

// Code returns the error code of err or an empty code
func Code(err error) ErrorCode {
	if se, ok := asServiceError(err); ok {
		return se.Code
	}
	return ""
}

// Is is errors.Is from the standard library, re-exported so callers importing
// this package need no second errors import
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
