// Package models holds the timetracker entities the Jira integration reads and
// mutates: ticket systems, users, their stored Jira credentials and time entries.
package models

import (
	"strings"
	"time"
)

// TicketSystemType tags the kind of remote ticket system
type TicketSystemType string

// Supported ticket system types
const (
	TicketSystemTypeJira TicketSystemType = "JIRA"
	TicketSystemTypeOTRS TicketSystemType = "OTRS"
)

// TicketSystem is a configured remote Jira instance
type TicketSystem struct {
	ID       int64
	Name     string
	Type     TicketSystemType
	BookTime bool
	// URL is the Jira base URL without trailing slash
	URL       string
	TicketURL string
	Login     string

	OAuthConsumerKey string
	// OAuthConsumerSecret holds the RSA private key, either PEM content or a file path
	OAuthConsumerSecret string
}

// IsJira reports whether the ticket system is a Jira instance
func (t *TicketSystem) IsJira() bool {
	return t != nil && t.Type == TicketSystemTypeJira
}

// ConsumerKey returns the OAuth consumer key, falling back to the login
func (t *TicketSystem) ConsumerKey() string {
	if t.OAuthConsumerKey != "" {
		return t.OAuthConsumerKey
	}
	return t.Login
}

// BaseURL returns the ticket system URL without trailing slashes
func (t *TicketSystem) BaseURL() string {
	return strings.TrimRight(t.URL, "/")
}

// IssueLink renders the browser link of a ticket
func (t *TicketSystem) IssueLink(ticket string) string {
	if t.TicketURL != "" {
		return strings.ReplaceAll(t.TicketURL, "%s", ticket)
	}
	return t.BaseURL() + "/browse/" + ticket
}

// User is a local timetracker user
type User struct {
	ID       int64
	Username string
}

// UserTicketsystem stores the per (user, ticket system) OAuth credentials.
// AccessToken and TokenSecret hold ciphertext.
type UserTicketsystem struct {
	ID              int64
	UserID          int64
	TicketSystemID  int64
	AccessToken     string
	TokenSecret     string
	AvoidConnection bool
}

// Customer owns projects
type Customer struct {
	ID   int64
	Name string
}

// Activity classifies the work of an entry
type Activity struct {
	ID   int64
	Name string
}

// Project groups entries and points to the ticket system they book on
type Project struct {
	ID     int64
	Name   string
	JiraID string

	TicketSystem *TicketSystem
	Customer     *Customer

	InternalJiraProjectKey     string
	InternalJiraTicketSystemID int64
}

// HasInternalJira reports whether entries are booked on an internal Jira project
func (p *Project) HasInternalJira() bool {
	return p != nil && p.InternalJiraProjectKey != "" && p.InternalJiraTicketSystemID != 0
}

// Entry is a recorded time entry
type Entry struct {
	ID          int64
	Ticket      string
	Description string
	Day         time.Time
	Start       time.Time
	End         time.Time
	// Duration in minutes
	Duration int

	WorklogID            *int64
	SyncedToTicketsystem bool

	InternalJiraTicketOriginalKey string

	User     *User
	Project  *Project
	Customer *Customer
	Activity *Activity
}

// HasTicket reports whether the entry references a real ticket
func (e *Entry) HasTicket() bool {
	t := strings.TrimSpace(e.Ticket)
	return t != "" && t != "0"
}

// HasWorklog reports whether a remote worklog is known
func (e *Entry) HasWorklog() bool {
	return e.WorklogID != nil && *e.WorklogID != 0
}

// TicketSystem returns the ticket system of the entry's project
func (e *Entry) TicketSystem() *TicketSystem {
	if e.Project == nil {
		return nil
	}
	return e.Project.TicketSystem
}

// EffectiveCustomer returns the entry customer or the project customer
func (e *Entry) EffectiveCustomer() *Customer {
	if e.Customer != nil {
		return e.Customer
	}
	if e.Project != nil {
		return e.Project.Customer
	}
	return nil
}

// StartedAt combines Day with the clock time of Start
func (e *Entry) StartedAt() time.Time {
	loc := e.Day.Location()
	return time.Date(e.Day.Year(), e.Day.Month(), e.Day.Day(),
		e.Start.Hour(), e.Start.Minute(), e.Start.Second(), 0, loc)
}

// CalcDuration derives Duration from Start and End
func (e *Entry) CalcDuration() {
	d := int(e.End.Sub(e.Start).Minutes())
	if d < 0 {
		d = 0
	}
	e.Duration = d
}

// IsZeroDuration reports whether no time was booked
func (e *Entry) IsZeroDuration() bool {
	return e.Duration <= 0 || e.Start.Equal(e.End)
}

// MarkSynced records a successfully written remote worklog
func (e *Entry) MarkSynced(worklogID int64) {
	e.WorklogID = &worklogID
	e.SyncedToTicketsystem = true
}

// ClearWorklog forgets the remote worklog
func (e *Entry) ClearWorklog() {
	e.WorklogID = nil
	e.SyncedToTicketsystem = false
}
