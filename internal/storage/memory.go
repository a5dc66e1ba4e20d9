package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/netresearch/timetracker-sub002/internal/models"
)

// MemoryStore is an in-memory Store. Entries are copied on the way in and out
// so callers observe persistence the same way as with SQLStore.
type MemoryStore struct {
	mu sync.RWMutex

	nextID        int64
	ticketSystems map[int64]*models.TicketSystem
	users         map[int64]*models.User
	credentials   map[int64]*models.UserTicketsystem
	entries       map[int64]*models.Entry

	// SaveEntryErr, when set, is returned by SaveEntry
	SaveEntryErr error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ticketSystems: make(map[int64]*models.TicketSystem),
		users:         make(map[int64]*models.User),
		credentials:   make(map[int64]*models.UserTicketsystem),
		entries:       make(map[int64]*models.Entry),
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// AddTicketSystem stores ts, assigning an id when missing
func (m *MemoryStore) AddTicketSystem(ts *models.TicketSystem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts.ID == 0 {
		ts.ID = m.id()
	}
	m.ticketSystems[ts.ID] = ts
}

// AddUser stores u, assigning an id when missing
func (m *MemoryStore) AddUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == 0 {
		u.ID = m.id()
	}
	m.users[u.ID] = u
}

// FindTicketSystem implements Store
func (m *MemoryStore) FindTicketSystem(_ context.Context, id int64) (*models.TicketSystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ts, ok := m.ticketSystems[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ts, nil
}

// FindUser implements Store
func (m *MemoryStore) FindUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// FindUserTicketsystem implements Store
func (m *MemoryStore) FindUserTicketsystem(_ context.Context, userID, ticketSystemID int64) (*models.UserTicketsystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ut := range m.credentials {
		if ut.UserID == userID && ut.TicketSystemID == ticketSystemID {
			c := *ut
			return &c, nil
		}
	}
	return nil, nil
}

// SaveUserTicketsystem implements Store with upsert semantics on (user, ticket system)
func (m *MemoryStore) SaveUserTicketsystem(_ context.Context, ut *models.UserTicketsystem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.credentials {
		if existing.UserID == ut.UserID && existing.TicketSystemID == ut.TicketSystemID {
			ut.ID = id
			break
		}
	}
	if ut.ID == 0 {
		ut.ID = m.id()
	}
	c := *ut
	m.credentials[ut.ID] = &c
	return nil
}

// DeleteUserTicketsystem implements Store
func (m *MemoryStore) DeleteUserTicketsystem(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.credentials, id)
	return nil
}

// ListUserTicketsystems implements Store
func (m *MemoryStore) ListUserTicketsystems(_ context.Context) ([]*models.UserTicketsystem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*models.UserTicketsystem, 0, len(m.credentials))
	for _, ut := range m.credentials {
		c := *ut
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// CredentialCount returns the number of stored credential rows
func (m *MemoryStore) CredentialCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.credentials)
}

// FindEntry implements Store
func (m *MemoryStore) FindEntry(_ context.Context, id int64) (*models.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

// FindUnsyncedEntries implements Store
func (m *MemoryStore) FindUnsyncedEntries(_ context.Context, userID, ticketSystemID int64, limit int) ([]*models.Entry, error) {
	result := m.filter(func(e *models.Entry) bool {
		ts := e.TicketSystem()
		return !e.SyncedToTicketsystem && e.User != nil && e.User.ID == userID && ts != nil && ts.ID == ticketSystemID &&
			!e.Project.HasInternalJira()
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// FindEntriesNeedingSync implements Store
func (m *MemoryStore) FindEntriesNeedingSync(_ context.Context, filter EntryFilter) ([]*models.Entry, error) {
	return m.filter(func(e *models.Entry) bool {
		if e.SyncedToTicketsystem {
			return false
		}
		if filter.UserID != 0 && (e.User == nil || e.User.ID != filter.UserID) {
			return false
		}
		return filter.Since.IsZero() || !e.Day.Before(filter.Since)
	}), nil
}

// SaveEntry implements Store
func (m *MemoryStore) SaveEntry(_ context.Context, entry *models.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveEntryErr != nil {
		return m.SaveEntryErr
	}
	if entry.ID == 0 {
		entry.ID = m.id()
	}
	m.entries[entry.ID] = copyEntry(entry)
	return nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) filter(match func(*models.Entry) bool) []*models.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*models.Entry
	for _, e := range m.entries {
		if match(e) {
			result = append(result, copyEntry(e))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func copyEntry(e *models.Entry) *models.Entry {
	c := *e
	if e.WorklogID != nil {
		id := *e.WorklogID
		c.WorklogID = &id
	}
	return &c
}
