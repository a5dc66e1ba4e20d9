// Package storage persists ticket systems, credentials and time entries.
//
// SQLStore talks to SQLite or PostgreSQL through sqlx and owns the goose
// migrations; MemoryStore keeps everything in maps and backs unit tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/netresearch/timetracker-sub002/internal/models"
)

// ErrNotFound is returned by lookups by id when no row matches
var ErrNotFound = errors.New("not found")

// EntryFilter narrows FindEntriesNeedingSync. Zero values disable a criterion.
type EntryFilter struct {
	UserID int64
	Since  time.Time
}

// Store is the persistence gateway used by the composition root
type Store interface {
	FindTicketSystem(ctx context.Context, id int64) (*models.TicketSystem, error)
	FindUser(ctx context.Context, id int64) (*models.User, error)

	// FindUserTicketsystem returns nil and no error when no row exists
	FindUserTicketsystem(ctx context.Context, userID, ticketSystemID int64) (*models.UserTicketsystem, error)
	SaveUserTicketsystem(ctx context.Context, ut *models.UserTicketsystem) error
	DeleteUserTicketsystem(ctx context.Context, id int64) error
	ListUserTicketsystems(ctx context.Context) ([]*models.UserTicketsystem, error)

	FindEntry(ctx context.Context, id int64) (*models.Entry, error)
	FindUnsyncedEntries(ctx context.Context, userID, ticketSystemID int64, limit int) ([]*models.Entry, error)
	FindEntriesNeedingSync(ctx context.Context, filter EntryFilter) ([]*models.Entry, error)
	SaveEntry(ctx context.Context, entry *models.Entry) error

	Close() error
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
