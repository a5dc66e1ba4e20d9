package jira

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Issue represents a Jira issue
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields holds the issue fields this service reads
type IssueFields struct {
	Summary   string     `json:"summary"`
	Status    *Status    `json:"status,omitempty"`
	Assignee  *User      `json:"assignee,omitempty"`
	IssueType *IssueType `json:"issuetype,omitempty"`
	Project   *Project   `json:"project,omitempty"`
	Subtasks  []Issue    `json:"subtasks,omitempty"`
}

// User represents a Jira user. Server installations identify users by name.
type User struct {
	Name         string `json:"name,omitempty"`
	Key          string `json:"key,omitempty"`
	AccountID    string `json:"accountId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	EmailAddress string `json:"emailAddress,omitempty"`
	Active       bool   `json:"active"`
}

// Project represents a Jira project
type Project struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Lead        *User  `json:"lead,omitempty"`
	Self        string `json:"self,omitempty"`
}

// Status represents issue status
type Status struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// IssueType represents the type of issue
type IssueType struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Issue type names used when creating tickets
const (
	IssueTypeBug   = "Bug"
	IssueTypeStory = "Story"
	IssueTypeTask  = "Task"
)

// Transition is a workflow transition available on an issue
type Transition struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	To   *Status `json:"to,omitempty"`
}

// Subticket is the flattened view of a subtask
type Subticket struct {
	Key      string  `json:"key"`
	Summary  string  `json:"summary"`
	Status   string  `json:"status"`
	Assignee *string `json:"assignee"`
}

// Comment represents a Jira comment
type Comment struct {
	ID      string `json:"id"`
	Body    string `json:"body"`
	Author  *User  `json:"author,omitempty"`
	Created string `json:"created,omitempty"`
}

// SearchResult is the response of a JQL search
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// IssueInput describes a new issue
type IssueInput struct {
	ProjectKey  string
	Summary     string
	Description string
	IssueType   string
}

// CreatedIssue is the response of issue creation
type CreatedIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// Worklog is the payload written for an entry
type Worklog struct {
	Comment          string `json:"comment"`
	Started          string `json:"started"`
	TimeSpentSeconds int    `json:"timeSpentSeconds"`
}

// WorklogID accepts the worklog id as JSON string or number
type WorklogID int64

// UnmarshalJSON implements json.Unmarshaler
func (id *WorklogID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// unparsable ids are reported as missing by the caller
		*id = 0
		return nil //nolint:nilerr // invalid id is handled as zero
	}
	*id = WorklogID(v)
	return nil
}

// worklogResponse is the part of a worklog response the reconciliation needs
type worklogResponse struct {
	ID WorklogID `json:"id"`
}

// transitionsResponse keeps elements raw so malformed ones can be skipped
type transitionsResponse struct {
	Transitions []json.RawMessage `json:"transitions"`
}
