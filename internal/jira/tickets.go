package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/text/cases"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/models"
)

const (
	defaultSearchResults = 50
	defaultDescription   = "No description provided"
	summarySeparator     = " | "
)

// TicketService provides ticket level operations
type TicketService struct {
	api    API
	logger *slog.Logger
}

// NewTicketService creates a new TicketService
func NewTicketService(api API, logger *slog.Logger) *TicketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketService{api: api, logger: logger}
}

func issuePath(key string, parts ...string) string {
	p := "issue/" + url.PathEscape(key)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// CreateTicket creates a ticket for entry in its project's Jira project
func (s *TicketService) CreateTicket(ctx context.Context, entry *models.Entry) (*CreatedIssue, error) {
	project := entry.Project
	if project == nil {
		return nil, errors.NewJiraAPIError("Entry has no project", nil)
	}
	if project.JiraID == "" {
		return nil, errors.NewJiraAPIError("Project has no Jira ID configured", nil)
	}

	var parts []string
	if customer := entry.EffectiveCustomer(); customer != nil && customer.Name != "" {
		parts = append(parts, customer.Name)
	}
	if project.Name != "" {
		parts = append(parts, project.Name)
	}
	activityName := ""
	if entry.Activity != nil {
		activityName = entry.Activity.Name
		if activityName != "" {
			parts = append(parts, activityName)
		}
	}

	description := entry.Description
	if description == "" {
		description = defaultDescription
	}

	return s.CreateIssue(ctx, IssueInput{
		ProjectKey:  project.JiraID,
		Summary:     strings.Join(parts, summarySeparator),
		Description: description,
		IssueType:   inferIssueType(activityName),
	})
}

// inferIssueType maps an activity name to an issue type
func inferIssueType(activity string) string {
	folded := cases.Fold().String(activity)
	switch {
	case strings.Contains(folded, "bug"), strings.Contains(folded, "fix"):
		return IssueTypeBug
	case strings.Contains(folded, "feature"), strings.Contains(folded, "develop"):
		return IssueTypeStory
	default:
		return IssueTypeTask
	}
}

// CreateIssue creates an issue from input
func (s *TicketService) CreateIssue(ctx context.Context, input IssueInput) (*CreatedIssue, error) {
	if input.IssueType == "" {
		input.IssueType = IssueTypeTask
	}

	payload := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": input.ProjectKey},
			"summary":     input.Summary,
			"description": input.Description,
			"issuetype":   map[string]string{"name": input.IssueType},
		},
	}

	resp, err := s.api.Post(ctx, "issue", payload)
	if err != nil {
		return nil, err
	}

	var created CreatedIssue
	if !resp.IsObject() || resp.Decode(&created) != nil || created.Key == "" {
		return nil, errors.NewJiraAPIError("Failed to create Jira ticket", nil)
	}

	s.logger.Info("Created Jira ticket",
		"ticket", created.Key,
		"project", input.ProjectKey,
		"issue_type", input.IssueType)

	return &created, nil
}

// DoesTicketExist reports whether key names an existing issue. Jira errors
// count as absent.
func (s *TicketService) DoesTicketExist(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	resp, err := s.api.Get(ctx, issuePath(key))
	if err != nil {
		if !errors.IsJiraAPIError(err) {
			s.logger.Warn("Failed to check Jira ticket", "ticket", key, "error", err)
		}
		return false
	}

	var issue Issue
	if !resp.IsObject() || resp.Decode(&issue) != nil {
		return false
	}
	return strings.EqualFold(issue.Key, key)
}

// GetTicket loads an issue, optionally restricted to fields
func (s *TicketService) GetTicket(ctx context.Context, key string, fields []string) (*Issue, error) {
	if key == "" {
		return nil, errors.NewJiraAPIError("Ticket key cannot be empty", nil)
	}

	path := issuePath(key)
	if len(fields) > 0 {
		path += "?fields=" + url.QueryEscape(strings.Join(fields, ","))
	}

	resp, err := s.api.Get(ctx, path)
	if err != nil {
		return nil, err
	}

	var issue Issue
	if err := resp.Decode(&issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// UpdateTicket sets fields on an issue
func (s *TicketService) UpdateTicket(ctx context.Context, key string, fields map[string]any) error {
	if key == "" {
		return errors.NewJiraAPIError("Ticket key cannot be empty", nil)
	}
	if len(fields) == 0 {
		return errors.NewJiraAPIError("Fields cannot be empty", nil)
	}

	_, err := s.api.Put(ctx, issuePath(key), map[string]any{"fields": fields})
	return err
}

// AddComment adds a plain text comment to an issue
func (s *TicketService) AddComment(ctx context.Context, key, text string) (*Comment, error) {
	if key == "" {
		return nil, errors.NewJiraAPIError("Ticket key cannot be empty", nil)
	}
	if text == "" {
		return nil, errors.NewJiraAPIError("Comment text cannot be empty", nil)
	}

	resp, err := s.api.Post(ctx, issuePath(key, "comment"), map[string]string{"body": text})
	if err != nil {
		return nil, err
	}

	var comment Comment
	if err := resp.Decode(&comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// GetTransitions lists available transitions. It never fails: errors and
// malformed answers yield an empty list.
func (s *TicketService) GetTransitions(ctx context.Context, key string) []Transition {
	if key == "" {
		return []Transition{}
	}

	resp, err := s.api.Get(ctx, issuePath(key, "transitions"))
	if err != nil {
		s.logger.Debug("Failed to load transitions", "ticket", key, "error", err)
		return []Transition{}
	}

	var raw transitionsResponse
	if !resp.IsObject() || resp.Decode(&raw) != nil {
		return []Transition{}
	}

	transitions := make([]Transition, 0, len(raw.Transitions))
	for _, item := range raw.Transitions {
		if len(item) == 0 || item[0] != '{' {
			continue
		}
		var t Transition
		if err := json.Unmarshal(item, &t); err != nil {
			continue
		}
		transitions = append(transitions, t)
	}
	return transitions
}

// TransitionTicket moves an issue through transitionID
func (s *TicketService) TransitionTicket(ctx context.Context, key, transitionID string, fields map[string]any) error {
	if key == "" {
		return errors.NewJiraAPIError("Ticket key cannot be empty", nil)
	}
	if transitionID == "" {
		return errors.NewJiraAPIError("Transition ID cannot be empty", nil)
	}

	payload := map[string]any{
		"transition": map[string]string{"id": transitionID},
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}

	_, err := s.api.Post(ctx, issuePath(key, "transitions"), payload)
	return err
}

// GetSubtickets lists the subtasks of an issue. A missing issue has none.
func (s *TicketService) GetSubtickets(ctx context.Context, key string) ([]Subticket, error) {
	if key == "" {
		return []Subticket{}, nil
	}

	resp, err := s.api.Get(ctx, issuePath(key)+"?fields=subtasks")
	if err != nil {
		if errors.IsJiraInvalidResource(err) {
			return []Subticket{}, nil
		}
		return nil, wrapJiraError(err, fmt.Sprintf("Failed to load subtickets of %s", key))
	}

	var issue Issue
	if !resp.IsObject() || resp.Decode(&issue) != nil {
		return []Subticket{}, nil
	}

	subtickets := make([]Subticket, 0, len(issue.Fields.Subtasks))
	for _, sub := range issue.Fields.Subtasks {
		st := Subticket{Key: sub.Key, Summary: sub.Fields.Summary}
		if sub.Fields.Status != nil {
			st.Status = sub.Fields.Status.Name
		}
		if sub.Fields.Assignee != nil && sub.Fields.Assignee.DisplayName != "" {
			name := sub.Fields.Assignee.DisplayName
			st.Assignee = &name
		}
		subtickets = append(subtickets, st)
	}
	return subtickets, nil
}

// SearchTickets runs a JQL search. maxResults <= 0 uses the default page size.
func (s *TicketService) SearchTickets(ctx context.Context, jql string, fields []string, maxResults int) (*SearchResult, error) {
	if jql == "" {
		return nil, errors.NewJiraAPIError("JQL cannot be empty", nil)
	}
	if maxResults <= 0 {
		maxResults = defaultSearchResults
	}

	payload := map[string]any{
		"jql":        jql,
		"maxResults": maxResults,
	}
	if len(fields) > 0 {
		payload["fields"] = fields
	}

	resp, err := s.api.Post(ctx, "search", payload)
	if err != nil {
		return nil, err
	}

	var result SearchResult
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// wrapJiraError prefixes the message of err and keeps its Jira error code
func wrapJiraError(err error, prefix string) error {
	code := errors.Code(err)
	if code == "" {
		code = errors.ErrCodeJiraAPIError
	}
	return errors.NewError(code).
		WithMessage(prefix + ": " + err.Error()).
		WithCause(err).
		Build()
}
