package jira

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/models"
)

// DefaultBatchLimit is the number of entries synced per batch
const DefaultBatchLimit = 50

// StartedLayout formats the worklog start with milliseconds and numeric offset
const StartedLayout = "2006-01-02T15:04:05.000-0700"

const (
	noActivity    = "no activity specified"
	noDescription = "no description given"
)

// Worklog failures
const (
	MsgInvalidCreateResponse = "Invalid response from Jira API when creating work log"
	MsgUnexpectedWorklogID   = "Unexpected response from Jira when updating worklog"
)

// Sync actions reported to the SyncRecorder
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Authorizer gates remote calls for a (user, ticket system) pair
type Authorizer interface {
	CheckUserTicketSystem(ctx context.Context, user *models.User, ts *models.TicketSystem) bool
	Authenticate(ctx context.Context, user *models.User, ts *models.TicketSystem) error
}

// EntryStore loads and persists entries for batch runs
type EntryStore interface {
	FindUnsyncedEntries(ctx context.Context, userID, ticketSystemID int64, limit int) ([]*models.Entry, error)
	SaveEntry(ctx context.Context, entry *models.Entry) error
}

// SyncRecorder observes worklog reconciliation outcomes
type SyncRecorder interface {
	RecordWorklogSync(action string, success bool)
}

// APIFactory builds the API bound to a (user, ticket system) pair
type APIFactory func(user *models.User, ts *models.TicketSystem) API

// BatchResult summarizes a batch run
type BatchResult struct {
	Processed int
	Synced    int
	Failed    int
}

// SyncResult is returned by SyncWorkLog
type SyncResult struct {
	WorklogID *int64
}

// WorkLogService reconciles time entries with Jira worklogs
type WorkLogService struct {
	newAPI   APIFactory
	auth     Authorizer
	store    EntryStore
	recorder SyncRecorder
	logger   *slog.Logger
}

// NewWorkLogService creates a new WorkLogService. recorder may be nil.
func NewWorkLogService(newAPI APIFactory, auth Authorizer, store EntryStore, recorder SyncRecorder, logger *slog.Logger) *WorkLogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkLogService{
		newAPI:   newAPI,
		auth:     auth,
		store:    store,
		recorder: recorder,
		logger:   logger,
	}
}

func worklogPath(ticket string, id int64) string {
	return issuePath(ticket, "worklog", strconv.FormatInt(id, 10))
}

// UpdateEntryWorkLog creates, updates or deletes the worklog of entry so it
// matches local state. Entries without ticket, user, ticket system or
// authorization are left untouched.
func (s *WorkLogService) UpdateEntryWorkLog(ctx context.Context, entry *models.Entry) error {
	user, ts := entry.User, entry.TicketSystem()
	if !entry.HasTicket() || user == nil || ts == nil {
		return nil
	}
	if !s.auth.CheckUserTicketSystem(ctx, user, ts) {
		s.logger.Debug("Skipping worklog sync, user not connected to Jira",
			"entry_id", entry.ID,
			"user_id", user.ID,
			"ticket_system_id", ts.ID)
		return nil
	}

	return s.reconcile(ctx, s.newAPI(user, ts), entry)
}

func (s *WorkLogService) reconcile(ctx context.Context, api API, entry *models.Entry) error {
	if !NewTicketService(api, s.logger).DoesTicketExist(ctx, entry.Ticket) {
		s.logger.Debug("Skipping worklog sync, ticket does not exist",
			"entry_id", entry.ID,
			"ticket", entry.Ticket)
		return nil
	}

	if entry.Duration <= 0 {
		err := s.removeZeroDuration(ctx, api, entry)
		s.record(ActionDelete, err)
		return err
	}

	payload := Worklog{
		Comment:          worklogComment(entry),
		Started:          entry.StartedAt().Format(StartedLayout),
		TimeSpentSeconds: entry.Duration * 60,
	}

	if entry.HasWorklog() {
		path := worklogPath(entry.Ticket, *entry.WorklogID)
		if api.DoesResourceExist(ctx, path) {
			err := s.writeWorklog(ctx, entry, func() (*Response, error) {
				return api.Put(ctx, path, payload)
			}, MsgUnexpectedWorklogID)
			s.record(ActionUpdate, err)
			return err
		}

		s.logger.Info("Jira worklog vanished, creating a new one",
			"entry_id", entry.ID,
			"ticket", entry.Ticket,
			"worklog_id", *entry.WorklogID)
		entry.ClearWorklog()
	}

	err := s.writeWorklog(ctx, entry, func() (*Response, error) {
		return api.Post(ctx, issuePath(entry.Ticket, "worklog"), payload)
	}, MsgInvalidCreateResponse)
	s.record(ActionCreate, err)
	return err
}

// writeWorklog performs a create or update call and stores the returned id
func (s *WorkLogService) writeWorklog(ctx context.Context, entry *models.Entry, call func() (*Response, error), notObjectMsg string) error {
	resp, err := call()
	if err != nil {
		entry.SyncedToTicketsystem = false
		return err
	}

	if !resp.IsObject() {
		entry.SyncedToTicketsystem = false
		return errors.NewJiraAPIError(notObjectMsg, nil)
	}

	var result worklogResponse
	if err := resp.Decode(&result); err != nil || result.ID <= 0 {
		entry.SyncedToTicketsystem = false
		return errors.NewJiraAPIError(MsgUnexpectedWorklogID, nil)
	}

	entry.MarkSynced(int64(result.ID))
	s.logger.InfoContext(ctx, "Synced Jira worklog",
		"entry_id", entry.ID,
		"ticket", entry.Ticket,
		"worklog_id", int64(result.ID))
	return nil
}

// removeZeroDuration deletes a remote worklog for an entry without booked time
func (s *WorkLogService) removeZeroDuration(ctx context.Context, api API, entry *models.Entry) error {
	if entry.HasWorklog() {
		path := worklogPath(entry.Ticket, *entry.WorklogID)
		if api.DoesResourceExist(ctx, path) {
			if _, err := api.Delete(ctx, path); err != nil && !errors.IsJiraInvalidResource(err) {
				entry.SyncedToTicketsystem = false
				return err
			}
		}
	}

	entry.ClearWorklog()
	return nil
}

// worklogComment renders "customer | project | activity | description".
// Missing customer or project names are left out.
func worklogComment(entry *models.Entry) string {
	var parts []string
	if customer := entry.EffectiveCustomer(); customer != nil && customer.Name != "" {
		parts = append(parts, customer.Name)
	}
	if entry.Project != nil && entry.Project.Name != "" {
		parts = append(parts, entry.Project.Name)
	}

	activity := noActivity
	if entry.Activity != nil && entry.Activity.Name != "" {
		activity = entry.Activity.Name
	}
	description := noDescription
	if strings.TrimSpace(entry.Description) != "" {
		description = entry.Description
	}

	return strings.Join(append(parts, activity, description), summarySeparator)
}

// DeleteEntryWorkLog removes the remote worklog of entry. A worklog that is
// already gone counts as deleted.
func (s *WorkLogService) DeleteEntryWorkLog(ctx context.Context, entry *models.Entry) error {
	user, ts := entry.User, entry.TicketSystem()
	if !entry.HasTicket() || !entry.HasWorklog() || user == nil || ts == nil {
		return nil
	}
	if !s.auth.CheckUserTicketSystem(ctx, user, ts) {
		return nil
	}

	api := s.newAPI(user, ts)
	path := worklogPath(entry.Ticket, *entry.WorklogID)

	if !api.DoesResourceExist(ctx, path) {
		entry.ClearWorklog()
		return nil
	}

	if _, err := api.Delete(ctx, path); err != nil && !errors.IsJiraInvalidResource(err) {
		s.record(ActionDelete, err)
		return err
	}

	s.logger.Info("Deleted Jira worklog",
		"entry_id", entry.ID,
		"ticket", entry.Ticket,
		"worklog_id", *entry.WorklogID)
	entry.ClearWorklog()
	s.record(ActionDelete, nil)
	return nil
}

// UpdateEntriesWorkLogsLimited syncs up to limit unsynced entries of a
// (user, ticket system) pair. A failing entry is logged and skipped; every
// entry is persisted after its attempt.
func (s *WorkLogService) UpdateEntriesWorkLogsLimited(ctx context.Context, user *models.User, ts *models.TicketSystem, limit int) (BatchResult, error) {
	var result BatchResult

	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	if !s.auth.CheckUserTicketSystem(ctx, user, ts) {
		return result, nil
	}

	entries, err := s.store.FindUnsyncedEntries(ctx, user.ID, ts.ID, limit)
	if err != nil {
		return result, fmt.Errorf("failed to load unsynced entries: %w", err)
	}

	api := s.newAPI(user, ts)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		if entry.HasTicket() {
			if err := s.reconcile(ctx, api, entry); err != nil {
				result.Failed++
				s.logger.Error("Failed to sync Jira worklog",
					"entry_id", entry.ID,
					"ticket", entry.Ticket,
					"error", err)
			}
		}
		if entry.SyncedToTicketsystem {
			result.Synced++
		}

		if err := s.store.SaveEntry(ctx, entry); err != nil {
			s.logger.Error("Failed to persist entry after worklog sync",
				"entry_id", entry.ID,
				"error", err)
		}
	}

	s.logger.Info("Finished Jira worklog batch",
		"user_id", user.ID,
		"ticket_system_id", ts.ID,
		"processed", result.Processed,
		"synced", result.Synced,
		"failed", result.Failed)

	return result, nil
}

// ValidateConnection checks the stored credentials against GET myself
func (s *WorkLogService) ValidateConnection(ctx context.Context, user *models.User, ts *models.TicketSystem) (bool, error) {
	if err := s.auth.Authenticate(ctx, user, ts); err != nil {
		return false, err
	}

	resp, err := s.newAPI(user, ts).Get(ctx, "myself")
	if err != nil {
		return false, errors.NewJiraAPIError(err.Error(), err)
	}

	var me User
	if !resp.IsObject() || resp.Decode(&me) != nil {
		return false, nil
	}
	return me.Name != "", nil
}

// GetProjectInfo loads a Jira project. A non-object answer yields nil.
func (s *WorkLogService) GetProjectInfo(ctx context.Context, key string, user *models.User, ts *models.TicketSystem) (*Project, error) {
	if err := s.auth.Authenticate(ctx, user, ts); err != nil {
		return nil, errors.NewJiraAPIError(err.Error(), err)
	}

	resp, err := s.newAPI(user, ts).Get(ctx, "project/"+url.PathEscape(key))
	if err != nil {
		return nil, errors.NewJiraAPIError(err.Error(), err)
	}

	if !resp.IsObject() {
		return nil, nil
	}
	var project Project
	if err := resp.Decode(&project); err != nil {
		return nil, err
	}
	return &project, nil
}

// SyncWorkLog syncs entry and returns the resulting worklog id
func (s *WorkLogService) SyncWorkLog(ctx context.Context, user *models.User, ts *models.TicketSystem, entry *models.Entry) (SyncResult, error) {
	if entry.User == nil {
		entry.User = user
	}
	if ts != nil && entry.Project != nil && entry.Project.TicketSystem == nil {
		entry.Project.TicketSystem = ts
	}

	if err := s.UpdateEntryWorkLog(ctx, entry); err != nil {
		return SyncResult{}, err
	}
	return SyncResult{WorklogID: entry.WorklogID}, nil
}

func (s *WorkLogService) record(action string, err error) {
	if s.recorder != nil {
		s.recorder.RecordWorklogSync(action, err == nil)
	}
}
