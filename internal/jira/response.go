package jira

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/netresearch/timetracker-sub002/internal/errors"
)

// Response is a parsed Jira REST response body
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

var emptyObject = json.RawMessage(`{}`)

// newResponse validates body as JSON. An empty body becomes an empty object.
func newResponse(status int, body []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Response{StatusCode: status, Body: emptyObject}, nil
	}
	if !json.Valid(trimmed) {
		return nil, errors.NewJiraAPIError(errors.MsgInvalidJSON, nil)
	}
	return &Response{StatusCode: status, Body: json.RawMessage(trimmed)}, nil
}

// IsObject reports whether the body is a JSON object
func (r *Response) IsObject() bool {
	return r != nil && len(r.Body) > 0 && r.Body[0] == '{'
}

// Decode unmarshals the body into v
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.NewJiraAPIError(errors.MsgInvalidJSON, err)
	}
	return nil
}

// errorPayload is the error document Jira returns with 4xx/5xx responses
type errorPayload struct {
	ErrorMessages []string       `json:"errorMessages"`
	Errors        map[string]any `json:"errors"`
}

// extractErrorMessage builds the most specific message available from an
// error response body.
func extractErrorMessage(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return errors.MsgEmptyResponse
	}

	var payload errorPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return string(trimmed)
	}

	parts := make([]string, 0, len(payload.ErrorMessages)+len(payload.Errors))
	for _, msg := range payload.ErrorMessages {
		if msg != "" {
			parts = append(parts, msg)
		}
	}

	keys := make([]string, 0, len(payload.Errors))
	for k := range payload.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, payload.Errors[k]))
	}

	if len(parts) == 0 {
		return string(trimmed)
	}
	return strings.Join(parts, ", ")
}
