package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/timetracker-sub002/internal/models"
)

func TestMemoryStore_UpsertKeepsOneRow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveUserTicketsystem(ctx, &models.UserTicketsystem{UserID: 1, TicketSystemID: 2, AccessToken: "a"}))
	require.NoError(t, store.SaveUserTicketsystem(ctx, &models.UserTicketsystem{UserID: 1, TicketSystemID: 2, AccessToken: "b"}))
	require.NoError(t, store.SaveUserTicketsystem(ctx, &models.UserTicketsystem{UserID: 1, TicketSystemID: 3, AccessToken: "c"}))

	assert.Equal(t, 2, store.CredentialCount())

	ut, err := store.FindUserTicketsystem(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "b", ut.AccessToken)
}

func TestMemoryStore_EntriesAreCopied(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ts := &models.TicketSystem{Type: models.TicketSystemTypeJira}
	store.AddTicketSystem(ts)
	user := &models.User{Username: "bob"}
	store.AddUser(user)

	entry := &models.Entry{
		Ticket:  "ABC-1",
		Day:     time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		User:    user,
		Project: &models.Project{TicketSystem: ts},
	}
	require.NoError(t, store.SaveEntry(ctx, entry))

	entry.MarkSynced(5)

	loaded, err := store.FindEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, loaded.WorklogID)

	unsynced, err := store.FindUnsyncedEntries(ctx, user.ID, ts.ID, 10)
	require.NoError(t, err)
	assert.Len(t, unsynced, 1)

	since, err := store.FindEntriesNeedingSync(ctx, EntryFilter{Since: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Empty(t, since)
}

func TestMemoryStore_FindUnsyncedEntries_SkipsInternalJira(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ts := &models.TicketSystem{Type: models.TicketSystemTypeJira, BookTime: true}
	store.AddTicketSystem(ts)
	user := &models.User{Username: "bob"}
	store.AddUser(user)

	direct := &models.Entry{Ticket: "ABC-1", Duration: 30, User: user, Project: &models.Project{TicketSystem: ts}}
	mirrored := &models.Entry{Ticket: "EXT-1", Duration: 30, User: user, Project: &models.Project{
		TicketSystem:               ts,
		InternalJiraProjectKey:     "INT",
		InternalJiraTicketSystemID: 99,
	}}
	require.NoError(t, store.SaveEntry(ctx, direct))
	require.NoError(t, store.SaveEntry(ctx, mirrored))

	unsynced, err := store.FindUnsyncedEntries(ctx, user.ID, ts.ID, 10)
	require.NoError(t, err)
	require.Len(t, unsynced, 1)
	assert.Equal(t, "ABC-1", unsynced[0].Ticket)
}
