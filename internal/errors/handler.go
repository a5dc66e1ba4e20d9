package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
)

// Handler renders errors of the HTTP surface as JSON responses
type Handler struct {
	logger *slog.Logger
}

// NewHandler creates a new error handler
func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// HandleError responds with the status and JSON body matching err
func (h *Handler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := h.processError(err, r)

	h.logError(r.Context(), serviceErr, r)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(serviceErr.HTTPStatusCode())

	if encErr := json.NewEncoder(w).Encode(serviceErr.ToErrorResponse()); encErr != nil {
		h.logger.Error("Failed to encode error response", "error", encErr)
	}
}

// processError converts any error to a ServiceError carrying request context.
// The result is a copy; err itself is left untouched.
func (h *Handler) processError(err error, r *http.Request) *ServiceError {
	var found *ServiceError
	if !stderrors.As(err, &found) {
		found = NewError(ErrCodeInternalError).
			WithMessage("Internal server error").
			WithCause(err).
			Build()
	}

	serviceErr := *found
	serviceErr.Context = make(map[string]interface{}, len(found.Context)+2)
	for k, v := range found.Context {
		serviceErr.Context[k] = v
	}
	serviceErr.Context["request_method"] = r.Method
	serviceErr.Context["request_path"] = r.URL.Path

	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		serviceErr.RequestID = requestID
	}

	return &serviceErr
}

func (h *Handler) logError(ctx context.Context, serviceErr *ServiceError, r *http.Request) {
	attrs := []slog.Attr{
		slog.String("error_code", string(serviceErr.Code)),
		slog.String("error_category", string(serviceErr.Category)),
		slog.String("error_message", serviceErr.Message),
		slog.String("request_method", r.Method),
		slog.String("request_path", r.URL.Path),
		slog.Int("http_status", serviceErr.HTTPStatusCode()),
	}

	if serviceErr.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", serviceErr.RequestID))
	}
	if serviceErr.Cause != nil {
		attrs = append(attrs, slog.String("underlying_error", serviceErr.Cause.Error()))
	}

	h.logger.LogAttrs(ctx, logLevel(serviceErr.Severity), "Request failed", attrs...)
}

// logLevel determines appropriate log level based on error severity
func logLevel(severity Severity) slog.Level {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
