// Package integration is the entry point the host application uses to keep
// time entries and Jira worklogs in step. It decides whether an entry syncs at
// all, redirects entries of internal-Jira projects and turns expected
// non-sync conditions into a false result instead of an error.
package integration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/netresearch/timetracker-sub002/internal/cache"
	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/jira"
	"github.com/netresearch/timetracker-sub002/internal/models"
	"github.com/netresearch/timetracker-sub002/internal/storage"
)

// MsgEntryWithoutUser is returned when an entry cannot be attributed to a user
const MsgEntryWithoutUser = "Entry has no associated user"

const (
	projectCacheSize = 256
	projectCacheTTL  = 10 * time.Minute
)

// Store is the persistence the facade needs
type Store interface {
	FindTicketSystem(ctx context.Context, id int64) (*models.TicketSystem, error)
	FindEntriesNeedingSync(ctx context.Context, filter storage.EntryFilter) ([]*models.Entry, error)
	SaveEntry(ctx context.Context, entry *models.Entry) error
}

// WorkLogSyncer reconciles single entries with Jira
type WorkLogSyncer interface {
	UpdateEntryWorkLog(ctx context.Context, entry *models.Entry) error
	DeleteEntryWorkLog(ctx context.Context, entry *models.Entry) error
	ValidateConnection(ctx context.Context, user *models.User, ts *models.TicketSystem) (bool, error)
	GetProjectInfo(ctx context.Context, key string, user *models.User, ts *models.TicketSystem) (*jira.Project, error)
}

// Authorizer reports whether a user may talk to a ticket system
type Authorizer interface {
	CheckUserTicketSystem(ctx context.Context, user *models.User, ts *models.TicketSystem) bool
}

// TicketOps is the ticket subset used to map entries onto internal Jira tickets
type TicketOps interface {
	SearchTickets(ctx context.Context, jql string, fields []string, maxResults int) (*jira.SearchResult, error)
	CreateIssue(ctx context.Context, input jira.IssueInput) (*jira.CreatedIssue, error)
}

// TicketOpsFactory builds TicketOps for a (user, ticket system) pair
type TicketOpsFactory func(user *models.User, ts *models.TicketSystem) TicketOps

// Service is the Jira integration facade
type Service struct {
	store   Store
	worklog WorkLogSyncer
	tickets TicketOpsFactory
	auth    Authorizer
	logger  *slog.Logger

	projects *cache.MemoryCache[*jira.Project]
}

// NewService creates a new integration Service
func NewService(store Store, worklog WorkLogSyncer, tickets TicketOpsFactory, auth Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		worklog: worklog,
		tickets: tickets,
		auth:    auth,
		logger:  logger,

		projects: cache.NewMemoryCache[*jira.Project](projectCacheSize, projectCacheTTL),
	}
}

// SaveWorklog creates or updates the Jira worklog of entry. It returns false
// when the entry is not meant to be synced.
func (s *Service) SaveWorklog(ctx context.Context, entry *models.Entry) (bool, error) {
	if entry.Project == nil {
		s.logger.Debug("Entry has no project, skipping worklog sync", "entry_id", entry.ID)
		return false, nil
	}

	ts, err := s.targetTicketSystem(ctx, entry.Project)
	if err != nil {
		return false, err
	}
	if ts == nil {
		s.logger.Debug("Worklog sync disabled for project",
			"entry_id", entry.ID,
			"project_id", entry.Project.ID)
		return false, nil
	}
	if entry.User == nil {
		return false, errors.NewJiraAPIError(MsgEntryWithoutUser, nil)
	}
	if !s.auth.CheckUserTicketSystem(ctx, entry.User, ts) {
		s.logger.Debug("User not connected to Jira, skipping worklog sync",
			"entry_id", entry.ID,
			"user_id", entry.User.ID,
			"ticket_system_id", ts.ID)
		return false, nil
	}

	if entry.Project.HasInternalJira() {
		if err := s.mapInternalTicket(ctx, entry, ts); err != nil {
			s.logger.Error("Failed to map entry to internal Jira ticket",
				"entry_id", entry.ID,
				"ticket", entry.Ticket,
				"error", err)
			return false, err
		}
	}

	restore := redirect(entry, ts)
	defer restore()

	if err := s.worklog.UpdateEntryWorkLog(ctx, entry); err != nil {
		s.logger.Error("Failed to sync Jira worklog",
			"entry_id", entry.ID,
			"ticket", entry.Ticket,
			"ticket_system_id", ts.ID,
			"error", err)
		return false, err
	}

	s.logger.Info("Jira worklog saved",
		"entry_id", entry.ID,
		"ticket", entry.Ticket,
		"worklog_id", worklogID(entry))
	return true, nil
}

// DeleteWorklog removes the Jira worklog of entry. The local state is cleared
// and persisted before the remote delete, which uses the id captured first.
func (s *Service) DeleteWorklog(ctx context.Context, entry *models.Entry) (bool, error) {
	if !entry.HasWorklog() {
		return false, nil
	}
	if entry.Project == nil {
		return false, errors.NewJiraAPIError("Entry has no project", nil)
	}
	ts, err := s.targetTicketSystem(ctx, entry.Project)
	if err != nil {
		return false, err
	}
	if ts == nil {
		return false, errors.NewJiraAPIError("Entry has no ticket system", nil)
	}
	if entry.User == nil {
		return false, errors.NewJiraAPIError(MsgEntryWithoutUser, nil)
	}

	id := *entry.WorklogID
	entry.ClearWorklog()
	if err := s.store.SaveEntry(ctx, entry); err != nil {
		return false, fmt.Errorf("failed to persist entry %d: %w", entry.ID, err)
	}

	remote := *entry
	remote.WorklogID = &id
	restore := redirect(&remote, ts)
	defer restore()

	if err := s.worklog.DeleteEntryWorkLog(ctx, &remote); err != nil {
		s.logger.Error("Failed to delete Jira worklog",
			"entry_id", entry.ID,
			"ticket", entry.Ticket,
			"worklog_id", id,
			"error", err)
		return false, err
	}

	s.logger.Info("Jira worklog deleted",
		"entry_id", entry.ID,
		"ticket", entry.Ticket,
		"worklog_id", id)
	return true, nil
}

// BatchSyncWorkLogs saves the worklog of every entry in items and reports the
// outcome per entry id. Values that are not entries are ignored.
func (s *Service) BatchSyncWorkLogs(ctx context.Context, items []any) map[int64]bool {
	results := make(map[int64]bool, len(items))

	for _, item := range items {
		entry, ok := item.(*models.Entry)
		if !ok || entry == nil {
			continue
		}

		synced, err := s.SaveWorklog(ctx, entry)
		results[entry.ID] = err == nil && synced

		if err := s.store.SaveEntry(ctx, entry); err != nil {
			s.logger.Error("Failed to persist entry after batch sync",
				"entry_id", entry.ID,
				"error", err)
		}
	}

	return results
}

// GetEntriesNeedingSync lists unsynced entries that can actually be synced.
// user and since are optional. Storage failures are logged and yield no
// entries.
func (s *Service) GetEntriesNeedingSync(ctx context.Context, user *models.User, since *time.Time) []*models.Entry {
	var filter storage.EntryFilter
	if user != nil {
		filter.UserID = user.ID
	}
	if since != nil {
		filter.Since = *since
	}

	entries, err := s.store.FindEntriesNeedingSync(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to load entries needing sync", "error", err)
		return []*models.Entry{}
	}

	actionable := make([]*models.Entry, 0, len(entries))
	for _, e := range entries {
		if e.Project == nil {
			continue
		}
		if ts := e.TicketSystem(); !e.Project.HasInternalJira() && (!ts.IsJira() || !ts.BookTime) {
			continue
		}
		if !e.HasTicket() || e.IsZeroDuration() {
			continue
		}
		actionable = append(actionable, e)
	}
	return actionable
}

// ValidateJiraConnection reports whether user has working Jira credentials
// for ts. It never fails.
func (s *Service) ValidateJiraConnection(ctx context.Context, user *models.User, ts *models.TicketSystem) bool {
	if !ts.IsJira() {
		return false
	}

	ok, err := s.worklog.ValidateConnection(ctx, user, ts)
	if err != nil {
		s.logger.Warn("Jira connection validation failed",
			"user_id", userID(user),
			"ticket_system_id", ts.ID,
			"error", err)
		return false
	}
	return ok
}

// GetJiraProjectInfo loads a Jira project or returns nil. Successful lookups
// are cached per user and ticket system.
func (s *Service) GetJiraProjectInfo(ctx context.Context, key string, user *models.User, ts *models.TicketSystem) *jira.Project {
	if !ts.IsJira() {
		return nil
	}

	cacheKey := fmt.Sprintf("%d:%d:%s", ts.ID, userID(user), key)
	if project, ok := s.projects.Get(cacheKey); ok {
		return project
	}

	project, err := s.worklog.GetProjectInfo(ctx, key, user, ts)
	if err != nil {
		s.logger.Warn("Failed to load Jira project",
			"project", key,
			"ticket_system_id", ts.ID,
			"error", err)
		return nil
	}
	if project != nil {
		s.projects.Set(cacheKey, project)
	}
	return project
}

// targetTicketSystem resolves the ticket system entries of project book on.
// A nil result without error means the project does not sync.
func (s *Service) targetTicketSystem(ctx context.Context, project *models.Project) (*models.TicketSystem, error) {
	if project.HasInternalJira() {
		ts, err := s.store.FindTicketSystem(ctx, project.InternalJiraTicketSystemID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				s.logger.Warn("Internal Jira ticket system not found",
					"project_id", project.ID,
					"ticket_system_id", project.InternalJiraTicketSystemID)
				return nil, nil
			}
			return nil, fmt.Errorf("failed to load internal ticket system: %w", err)
		}
		if !ts.IsJira() {
			return nil, nil
		}
		return ts, nil
	}

	ts := project.TicketSystem
	if !ts.IsJira() || !ts.BookTime {
		return nil, nil
	}
	return ts, nil
}

// mapInternalTicket points entry at the internal ticket that mirrors its
// external ticket, creating it on first use. Mapping happens once per entry.
func (s *Service) mapInternalTicket(ctx context.Context, entry *models.Entry, ts *models.TicketSystem) error {
	if entry.InternalJiraTicketOriginalKey != "" || !entry.HasTicket() {
		return nil
	}
	// nothing will be booked, so no internal ticket is needed
	if entry.IsZeroDuration() && !entry.HasWorklog() {
		return nil
	}

	key := entry.Project.InternalJiraProjectKey
	ops := s.tickets(entry.User, ts)

	jql := jira.BuildJQL("project = {{project}} AND summary ~ {{summary}}", map[string]any{
		"project": key,
		"summary": entry.Ticket,
	})
	result, err := ops.SearchTickets(ctx, jql, []string{"key", "summary"}, 1)
	if err != nil {
		return err
	}

	internalKey := ""
	if result != nil && len(result.Issues) > 0 {
		internalKey = result.Issues[0].Key
	} else {
		created, err := ops.CreateIssue(ctx, jira.IssueInput{
			ProjectKey:  key,
			Summary:     entry.Ticket,
			Description: originalTicketLink(entry),
			IssueType:   jira.IssueTypeTask,
		})
		if err != nil {
			return err
		}
		internalKey = created.Key
	}

	s.logger.Info("Mapped entry to internal Jira ticket",
		"entry_id", entry.ID,
		"ticket", entry.Ticket,
		"internal_ticket", internalKey)

	entry.InternalJiraTicketOriginalKey = entry.Ticket
	entry.Ticket = internalKey
	return nil
}

func originalTicketLink(entry *models.Entry) string {
	if original := entry.Project.TicketSystem; original != nil && original.URL != "" {
		return original.IssueLink(entry.Ticket)
	}
	return entry.Ticket
}

// redirect makes entry book on ts for the duration of one call
func redirect(entry *models.Entry, ts *models.TicketSystem) func() {
	original := entry.Project
	if original.TicketSystem == ts {
		return func() {}
	}

	project := *original
	project.TicketSystem = ts
	entry.Project = &project
	return func() { entry.Project = original }
}

func worklogID(entry *models.Entry) int64 {
	if entry.WorklogID == nil {
		return 0
	}
	return *entry.WorklogID
}

func userID(user *models.User) int64 {
	if user == nil {
		return 0
	}
	return user.ID
}
