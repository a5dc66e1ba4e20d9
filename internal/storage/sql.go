package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/pressly/goose/v3"

	"github.com/netresearch/timetracker-sub002/internal/models"
	"github.com/netresearch/timetracker-sub002/internal/timezone"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// SQLStore implements Store on top of sqlx
type SQLStore struct {
	db     *sqlx.DB
	driver string
	tz     *timezone.Manager
}

// Open connects to the database and applies driver specific pragmas.
// Migrations are applied separately with Migrate.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		for _, pragma := range []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA foreign_keys = ON",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
			}
		}
	}

	return NewSQLStore(db), nil
}

// NewSQLStore wraps an existing connection
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, driver: db.DriverName()}
}

// Migrate applies all pending goose migrations for the store's dialect
func (s *SQLStore) Migrate(ctx context.Context) error {
	dir := "migrations/sqlite3"
	if s.driver == DriverPostgres {
		dir = "migrations/postgres"
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(s.driver); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db.DB, dir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SetTimezone makes entry times load and store as clock readings in the
// location of tz. Without it they are read as UTC.
func (s *SQLStore) SetTimezone(tz *timezone.Manager) {
	s.tz = tz
}

func (s *SQLStore) wall(t time.Time) time.Time {
	if s.tz == nil {
		return t
	}
	return s.tz.Wall(t)
}

func (s *SQLStore) strip(t time.Time) time.Time {
	if s.tz == nil {
		return t
	}
	return s.tz.Strip(t)
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the underlying connection
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

type ticketSystemRow struct {
	ID                  int64  `db:"id"`
	Name                string `db:"name"`
	Type                string `db:"type"`
	BookTime            bool   `db:"book_time"`
	URL                 string `db:"url"`
	TicketURL           string `db:"ticket_url"`
	Login               string `db:"login"`
	OAuthConsumerKey    string `db:"oauth_consumer_key"`
	OAuthConsumerSecret string `db:"oauth_consumer_secret"`
}

func (r ticketSystemRow) model() *models.TicketSystem {
	return &models.TicketSystem{
		ID:                  r.ID,
		Name:                r.Name,
		Type:                models.TicketSystemType(r.Type),
		BookTime:            r.BookTime,
		URL:                 r.URL,
		TicketURL:           r.TicketURL,
		Login:               r.Login,
		OAuthConsumerKey:    r.OAuthConsumerKey,
		OAuthConsumerSecret: r.OAuthConsumerSecret,
	}
}

type userTicketsystemRow struct {
	ID              int64  `db:"id"`
	UserID          int64  `db:"user_id"`
	TicketSystemID  int64  `db:"ticket_system_id"`
	AccessToken     string `db:"accesstoken"`
	TokenSecret     string `db:"tokensecret"`
	AvoidConnection bool   `db:"avoidconnection"`
}

func (r userTicketsystemRow) model() *models.UserTicketsystem {
	return &models.UserTicketsystem{
		ID:              r.ID,
		UserID:          r.UserID,
		TicketSystemID:  r.TicketSystemID,
		AccessToken:     r.AccessToken,
		TokenSecret:     r.TokenSecret,
		AvoidConnection: r.AvoidConnection,
	}
}

// FindTicketSystem loads a ticket system by id
func (s *SQLStore) FindTicketSystem(ctx context.Context, id int64) (*models.TicketSystem, error) {
	var row ticketSystemRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, name, type, book_time, url, ticket_url, login,
		oauth_consumer_key, oauth_consumer_secret FROM ticket_systems WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket system %d: %w", id, err)
	}
	return row.model(), nil
}

// CreateTicketSystem inserts ts and sets its id
func (s *SQLStore) CreateTicketSystem(ctx context.Context, ts *models.TicketSystem) error {
	return s.insert(ctx, &ts.ID, `INSERT INTO ticket_systems (name, type, book_time, url, ticket_url, login,
		oauth_consumer_key, oauth_consumer_secret) VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		ts.Name, string(ts.Type), ts.BookTime, ts.URL, ts.TicketURL, ts.Login, ts.OAuthConsumerKey, ts.OAuthConsumerSecret)
}

// FindUser loads a user by id
func (s *SQLStore) FindUser(ctx context.Context, id int64) (*models.User, error) {
	var u struct {
		ID       int64  `db:"id"`
		Username string `db:"username"`
	}
	err := s.db.GetContext(ctx, &u, s.db.Rebind(`SELECT id, username FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &models.User{ID: u.ID, Username: u.Username}, nil
}

// CreateUser inserts u and sets its id
func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	return s.insert(ctx, &u.ID, `INSERT INTO users (username) VALUES (?) RETURNING id`, u.Username)
}

// CreateCustomer inserts c and sets its id
func (s *SQLStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	return s.insert(ctx, &c.ID, `INSERT INTO customers (name) VALUES (?) RETURNING id`, c.Name)
}

// CreateActivity inserts a and sets its id
func (s *SQLStore) CreateActivity(ctx context.Context, a *models.Activity) error {
	return s.insert(ctx, &a.ID, `INSERT INTO activities (name) VALUES (?) RETURNING id`, a.Name)
}

// CreateProject inserts p and sets its id
func (s *SQLStore) CreateProject(ctx context.Context, p *models.Project) error {
	var tsID, customerID int64
	if p.TicketSystem != nil {
		tsID = p.TicketSystem.ID
	}
	if p.Customer != nil {
		customerID = p.Customer.ID
	}
	return s.insert(ctx, &p.ID, `INSERT INTO projects (name, jira_id, ticket_system_id, customer_id,
		internal_jira_project_key, internal_jira_ticket_system_id) VALUES (?, ?, ?, ?, ?, ?) RETURNING id`,
		p.Name, p.JiraID, nullID(tsID), nullID(customerID), p.InternalJiraProjectKey, nullID(p.InternalJiraTicketSystemID))
}

// FindUserTicketsystem loads the credential row of a (user, ticket system) pair
func (s *SQLStore) FindUserTicketsystem(ctx context.Context, userID, ticketSystemID int64) (*models.UserTicketsystem, error) {
	var row userTicketsystemRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT id, user_id, ticket_system_id, accesstoken, tokensecret,
		avoidconnection FROM user_ticketsystems WHERE user_id = ? AND ticket_system_id = ?`), userID, ticketSystemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	return row.model(), nil
}

// SaveUserTicketsystem upserts the credential row keyed by (user, ticket system)
func (s *SQLStore) SaveUserTicketsystem(ctx context.Context, ut *models.UserTicketsystem) error {
	return s.insert(ctx, &ut.ID, `INSERT INTO user_ticketsystems (user_id, ticket_system_id, accesstoken,
		tokensecret, avoidconnection) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, ticket_system_id) DO UPDATE SET
			accesstoken = excluded.accesstoken,
			tokensecret = excluded.tokensecret,
			avoidconnection = excluded.avoidconnection
		RETURNING id`,
		ut.UserID, ut.TicketSystemID, ut.AccessToken, ut.TokenSecret, ut.AvoidConnection)
}

// DeleteUserTicketsystem removes a credential row
func (s *SQLStore) DeleteUserTicketsystem(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM user_ticketsystems WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete credentials %d: %w", id, err)
	}
	return nil
}

// ListUserTicketsystems returns all credential rows
func (s *SQLStore) ListUserTicketsystems(ctx context.Context) ([]*models.UserTicketsystem, error) {
	var rows []userTicketsystemRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, user_id, ticket_system_id, accesstoken, tokensecret,
		avoidconnection FROM user_ticketsystems ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	result := make([]*models.UserTicketsystem, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.model())
	}
	return result, nil
}

const entrySelect = `SELECT e.id, e.ticket, e.description, e.day, e.started_at, e.ended_at, e.duration,
	e.worklog_id, e.synced_to_ticketsystem, e.internal_jira_ticket_original_key,
	u.id AS user_id, u.username,
	p.id AS project_id, p.name AS project_name, p.jira_id AS project_jira_id,
	p.internal_jira_project_key, p.internal_jira_ticket_system_id,
	pc.id AS project_customer_id, pc.name AS project_customer_name,
	c.id AS customer_id, c.name AS customer_name,
	a.id AS activity_id, a.name AS activity_name,
	ts.id AS ts_id, ts.name AS ts_name, ts.type AS ts_type, ts.book_time AS ts_book_time,
	ts.url AS ts_url, ts.ticket_url AS ts_ticket_url, ts.login AS ts_login,
	ts.oauth_consumer_key AS ts_oauth_consumer_key, ts.oauth_consumer_secret AS ts_oauth_consumer_secret
FROM entries e
LEFT JOIN users u ON u.id = e.user_id
LEFT JOIN projects p ON p.id = e.project_id
LEFT JOIN customers pc ON pc.id = p.customer_id
LEFT JOIN customers c ON c.id = e.customer_id
LEFT JOIN activities a ON a.id = e.activity_id
LEFT JOIN ticket_systems ts ON ts.id = p.ticket_system_id`

type entryRow struct {
	ID                            int64         `db:"id"`
	Ticket                        string        `db:"ticket"`
	Description                   string        `db:"description"`
	Day                           time.Time     `db:"day"`
	StartedAt                     time.Time     `db:"started_at"`
	EndedAt                       time.Time     `db:"ended_at"`
	Duration                      int           `db:"duration"`
	WorklogID                     sql.NullInt64 `db:"worklog_id"`
	SyncedToTicketsystem          bool          `db:"synced_to_ticketsystem"`
	InternalJiraTicketOriginalKey string        `db:"internal_jira_ticket_original_key"`

	UserID   sql.NullInt64  `db:"user_id"`
	Username sql.NullString `db:"username"`

	ProjectID                  sql.NullInt64  `db:"project_id"`
	ProjectName                sql.NullString `db:"project_name"`
	ProjectJiraID              sql.NullString `db:"project_jira_id"`
	InternalJiraProjectKey     sql.NullString `db:"internal_jira_project_key"`
	InternalJiraTicketSystemID sql.NullInt64  `db:"internal_jira_ticket_system_id"`
	ProjectCustomerID          sql.NullInt64  `db:"project_customer_id"`
	ProjectCustomerName        sql.NullString `db:"project_customer_name"`

	CustomerID   sql.NullInt64  `db:"customer_id"`
	CustomerName sql.NullString `db:"customer_name"`
	ActivityID   sql.NullInt64  `db:"activity_id"`
	ActivityName sql.NullString `db:"activity_name"`

	TSID                  sql.NullInt64  `db:"ts_id"`
	TSName                sql.NullString `db:"ts_name"`
	TSType                sql.NullString `db:"ts_type"`
	TSBookTime            sql.NullBool   `db:"ts_book_time"`
	TSURL                 sql.NullString `db:"ts_url"`
	TSTicketURL           sql.NullString `db:"ts_ticket_url"`
	TSLogin               sql.NullString `db:"ts_login"`
	TSOAuthConsumerKey    sql.NullString `db:"ts_oauth_consumer_key"`
	TSOAuthConsumerSecret sql.NullString `db:"ts_oauth_consumer_secret"`
}

func (r entryRow) model() *models.Entry {
	e := &models.Entry{
		ID:                            r.ID,
		Ticket:                        r.Ticket,
		Description:                   r.Description,
		Day:                           r.Day,
		Start:                         r.StartedAt,
		End:                           r.EndedAt,
		Duration:                      r.Duration,
		SyncedToTicketsystem:          r.SyncedToTicketsystem,
		InternalJiraTicketOriginalKey: r.InternalJiraTicketOriginalKey,
	}
	if r.WorklogID.Valid {
		id := r.WorklogID.Int64
		e.WorklogID = &id
	}
	if r.UserID.Valid {
		e.User = &models.User{ID: r.UserID.Int64, Username: r.Username.String}
	}
	if r.CustomerID.Valid {
		e.Customer = &models.Customer{ID: r.CustomerID.Int64, Name: r.CustomerName.String}
	}
	if r.ActivityID.Valid {
		e.Activity = &models.Activity{ID: r.ActivityID.Int64, Name: r.ActivityName.String}
	}
	if r.ProjectID.Valid {
		p := &models.Project{
			ID:                         r.ProjectID.Int64,
			Name:                       r.ProjectName.String,
			JiraID:                     r.ProjectJiraID.String,
			InternalJiraProjectKey:     r.InternalJiraProjectKey.String,
			InternalJiraTicketSystemID: r.InternalJiraTicketSystemID.Int64,
		}
		if r.ProjectCustomerID.Valid {
			p.Customer = &models.Customer{ID: r.ProjectCustomerID.Int64, Name: r.ProjectCustomerName.String}
		}
		if r.TSID.Valid {
			p.TicketSystem = &models.TicketSystem{
				ID:                  r.TSID.Int64,
				Name:                r.TSName.String,
				Type:                models.TicketSystemType(r.TSType.String),
				BookTime:            r.TSBookTime.Bool,
				URL:                 r.TSURL.String,
				TicketURL:           r.TSTicketURL.String,
				Login:               r.TSLogin.String,
				OAuthConsumerKey:    r.TSOAuthConsumerKey.String,
				OAuthConsumerSecret: r.TSOAuthConsumerSecret.String,
			}
		}
		e.Project = p
	}
	return e
}

func (s *SQLStore) selectEntries(ctx context.Context, query string, args ...any) ([]*models.Entry, error) {
	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}

	entries := make([]*models.Entry, 0, len(rows))
	for _, row := range rows {
		e := row.model()
		e.Day, e.Start, e.End = s.wall(e.Day), s.wall(e.Start), s.wall(e.End)
		entries = append(entries, e)
	}
	return entries, nil
}

// FindEntry loads an entry with its user, project, customer, activity and ticket system
func (s *SQLStore) FindEntry(ctx context.Context, id int64) (*models.Entry, error) {
	entries, err := s.selectEntries(ctx, entrySelect+` WHERE e.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNotFound
	}
	return entries[0], nil
}

// FindUnsyncedEntries returns up to limit unsynced entries of a user booked on a
// ticket system. Projects redirected to an internal Jira are left out; they
// only sync through the integration facade.
func (s *SQLStore) FindUnsyncedEntries(ctx context.Context, userID, ticketSystemID int64, limit int) ([]*models.Entry, error) {
	return s.selectEntries(ctx, entrySelect+`
		WHERE e.synced_to_ticketsystem = ? AND e.user_id = ? AND p.ticket_system_id = ?
		AND NOT (p.internal_jira_project_key <> '' AND p.internal_jira_ticket_system_id IS NOT NULL)
		ORDER BY e.day, e.started_at, e.id LIMIT ?`,
		false, userID, ticketSystemID, limit)
}

// FindEntriesNeedingSync returns unsynced entries matching filter
func (s *SQLStore) FindEntriesNeedingSync(ctx context.Context, filter EntryFilter) ([]*models.Entry, error) {
	var (
		conditions = []string{"e.synced_to_ticketsystem = ?"}
		args       = []any{false}
	)
	if filter.UserID != 0 {
		conditions = append(conditions, "e.user_id = ?")
		args = append(args, filter.UserID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "e.day >= ?")
		args = append(args, s.strip(filter.Since))
	}

	query := entrySelect + " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY e.day, e.started_at, e.id"
	return s.selectEntries(ctx, query, args...)
}

// SaveEntry inserts a new entry or updates an existing one
func (s *SQLStore) SaveEntry(ctx context.Context, entry *models.Entry) error {
	var userID, projectID, customerID, activityID int64
	if entry.User != nil {
		userID = entry.User.ID
	}
	if entry.Project != nil {
		projectID = entry.Project.ID
	}
	if entry.Customer != nil {
		customerID = entry.Customer.ID
	}
	if entry.Activity != nil {
		activityID = entry.Activity.ID
	}

	day, start, end := s.strip(entry.Day), s.strip(entry.Start), s.strip(entry.End)

	var worklogID sql.NullInt64
	if entry.WorklogID != nil {
		worklogID = sql.NullInt64{Int64: *entry.WorklogID, Valid: true}
	}

	if entry.ID == 0 {
		return s.insert(ctx, &entry.ID, `INSERT INTO entries (user_id, project_id, customer_id, activity_id,
			ticket, description, day, started_at, ended_at, duration, worklog_id, synced_to_ticketsystem,
			internal_jira_ticket_original_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
			nullID(userID), nullID(projectID), nullID(customerID), nullID(activityID),
			entry.Ticket, entry.Description, day, start, end, entry.Duration,
			worklogID, entry.SyncedToTicketsystem, entry.InternalJiraTicketOriginalKey)
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE entries SET user_id = ?, project_id = ?, customer_id = ?,
		activity_id = ?, ticket = ?, description = ?, day = ?, started_at = ?, ended_at = ?, duration = ?,
		worklog_id = ?, synced_to_ticketsystem = ?, internal_jira_ticket_original_key = ? WHERE id = ?`),
		nullID(userID), nullID(projectID), nullID(customerID), nullID(activityID),
		entry.Ticket, entry.Description, day, start, end, entry.Duration,
		worklogID, entry.SyncedToTicketsystem, entry.InternalJiraTicketOriginalKey, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to save entry %d: %w", entry.ID, err)
	}
	return nil
}

func (s *SQLStore) insert(ctx context.Context, id *int64, query string, args ...any) error {
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).Scan(id); err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
