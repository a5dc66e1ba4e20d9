package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/timetracker-sub002/internal/jira"
	"github.com/netresearch/timetracker-sub002/internal/models"
	"github.com/netresearch/timetracker-sub002/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pairKey struct{ user, ts int64 }

type fakeSyncer struct {
	results map[pairKey]jira.BatchResult
	errs    map[pairKey]error
	calls   []pairKey
	limits  []int
}

func (f *fakeSyncer) UpdateEntriesWorkLogsLimited(_ context.Context, user *models.User, ts *models.TicketSystem, limit int) (jira.BatchResult, error) {
	key := pairKey{user.ID, ts.ID}
	f.calls = append(f.calls, key)
	f.limits = append(f.limits, limit)
	return f.results[key], f.errs[key]
}

type batchRecorder struct {
	synced, failed int
	err            error
	runs           int
}

func (r *batchRecorder) RecordSyncBatch(synced, failed int, _ time.Duration, err error) {
	r.runs++
	r.synced, r.failed, r.err = synced, failed, err
}

type spanTracer struct{ runIDs []string }

func (t *spanTracer) TraceSyncBatch(ctx context.Context, runID string, fn func(context.Context) (int, int, error)) (int, int, error) {
	t.runIDs = append(t.runIDs, runID)
	return fn(ctx)
}

type failingStore struct {
	*storage.MemoryStore
}

func (failingStore) ListUserTicketsystems(context.Context) ([]*models.UserTicketsystem, error) {
	return nil, fmt.Errorf("connection refused")
}

func newStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	for _, id := range []int64{1, 2, 3} {
		store.AddUser(&models.User{ID: id, Username: fmt.Sprintf("user%d", id)})
	}
	store.AddTicketSystem(&models.TicketSystem{ID: 7, Type: models.TicketSystemTypeJira, BookTime: true})
	store.AddTicketSystem(&models.TicketSystem{ID: 8, Type: models.TicketSystemTypeOTRS, BookTime: true})
	store.AddTicketSystem(&models.TicketSystem{ID: 9, Type: models.TicketSystemTypeJira, BookTime: true})
	store.AddTicketSystem(&models.TicketSystem{ID: 10, Type: models.TicketSystemTypeJira})
	return store
}

func addPair(t *testing.T, store *storage.MemoryStore, userID, tsID int64, avoid bool) {
	t.Helper()
	require.NoError(t, store.SaveUserTicketsystem(context.Background(), &models.UserTicketsystem{
		UserID: userID, TicketSystemID: tsID, AccessToken: "enc", TokenSecret: "enc", AvoidConnection: avoid,
	}))
}

func TestRunOnce(t *testing.T) {
	store := newStore(t)
	addPair(t, store, 1, 7, false)  // synced
	addPair(t, store, 2, 7, true)   // connection avoided
	addPair(t, store, 1, 8, false)  // not Jira
	addPair(t, store, 1, 10, false) // booking disabled
	addPair(t, store, 4, 7, false)  // user deleted
	addPair(t, store, 2, 9, false)  // sync error

	syncer := &fakeSyncer{
		results: map[pairKey]jira.BatchResult{
			{1, 7}: {Processed: 3, Synced: 2, Failed: 1},
			{2, 9}: {Processed: 1, Failed: 1},
		},
		errs: map[pairKey]error{{2, 9}: fmt.Errorf("persist failed")},
	}
	recorder := &batchRecorder{}
	tracer := &spanTracer{}

	svc := NewService(store, syncer,
		WithLogger(testLogger()),
		WithBatchLimit(25),
		WithRecorder(recorder),
		WithTracer(tracer),
		WithRunID(func() string { return "run-1" }),
	)

	result, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 6, result.Pairs)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 2, result.PairsFailed)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 2, result.Failed)

	assert.ElementsMatch(t, []pairKey{{1, 7}, {2, 9}}, syncer.calls)
	assert.Equal(t, []int{25, 25}, syncer.limits)

	assert.Equal(t, []string{"run-1"}, tracer.runIDs)
	assert.Equal(t, 1, recorder.runs)
	assert.Equal(t, 2, recorder.synced)
	assert.Equal(t, 2, recorder.failed)
	assert.NoError(t, recorder.err)
}

func TestRunOnce_ListFailure(t *testing.T) {
	recorder := &batchRecorder{}
	svc := NewService(failingStore{storage.NewMemoryStore()}, &fakeSyncer{},
		WithLogger(testLogger()),
		WithRecorder(recorder),
	)

	_, err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list credentials")
	assert.Equal(t, 1, recorder.runs)
	assert.Error(t, recorder.err)
}

func TestRunOnce_Cancelled(t *testing.T) {
	store := newStore(t)
	addPair(t, store, 1, 7, false)
	syncer := &fakeSyncer{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewService(store, syncer, WithLogger(testLogger()))
	_, err := svc.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, syncer.calls)
}

func TestRunOnce_DefaultRunIDIsUUID(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), &fakeSyncer{}, WithLogger(testLogger()))

	first, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, first.RunID, 36)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestSchedule(t *testing.T) {
	engine := cron.New(cron.WithLocation(time.UTC))
	t.Cleanup(func() { engine.Stop() })

	svc := NewService(storage.NewMemoryStore(), &fakeSyncer{},
		WithLogger(testLogger()),
		WithCron(engine),
	)

	require.NoError(t, svc.Schedule(context.Background(), "*/5 * * * *"))
	assert.Len(t, engine.Entries(), 1)

	err := svc.Schedule(context.Background(), "every five minutes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sync schedule")
	assert.Len(t, engine.Entries(), 1)
}

func TestRun_StopsOnCancel(t *testing.T) {
	svc := NewService(storage.NewMemoryStore(), &fakeSyncer{}, WithLogger(testLogger()))
	require.NoError(t, svc.Schedule(context.Background(), "@every 1h"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
