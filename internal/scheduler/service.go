// Package scheduler runs the periodic batch sync of unsynced time entries
// for every stored (user, ticket system) credential pair.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/netresearch/timetracker-sub002/internal/jira"
	"github.com/netresearch/timetracker-sub002/internal/models"
)

// Store lists the credential pairs a run iterates
type Store interface {
	ListUserTicketsystems(ctx context.Context) ([]*models.UserTicketsystem, error)
	FindUser(ctx context.Context, id int64) (*models.User, error)
	FindTicketSystem(ctx context.Context, id int64) (*models.TicketSystem, error)
}

// BatchSyncer syncs the unsynced entries of one pair
type BatchSyncer interface {
	UpdateEntriesWorkLogsLimited(ctx context.Context, user *models.User, ts *models.TicketSystem, limit int) (jira.BatchResult, error)
}

// Recorder observes finished runs
type Recorder interface {
	RecordSyncBatch(synced, failed int, duration time.Duration, err error)
}

// Tracer wraps a run in a span
type Tracer interface {
	TraceSyncBatch(ctx context.Context, runID string, fn func(ctx context.Context) (synced, failed int, err error)) (int, int, error)
}

// RunResult summarizes one pass over all pairs
type RunResult struct {
	RunID       string
	Pairs       int
	Skipped     int
	PairsFailed int
	Synced      int
	Failed      int
	Duration    time.Duration
}

// Service coordinates scheduled batch sync runs.
type Service struct {
	store  Store
	syncer BatchSyncer
	opts   options
	cron   *cron.Cron

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewService creates a scheduler. Runs never overlap: a tick that fires
// while the previous run is still going is skipped.
func NewService(store Store, syncer BatchSyncer, opts ...Option) *Service {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	engine := o.Cron
	if engine == nil {
		engine = cron.New(
			cron.WithLocation(o.Location),
			cron.WithChain(
				cron.Recover(cron.DiscardLogger),
				cron.SkipIfStillRunning(cron.DiscardLogger),
			),
		)
	}

	return &Service{
		store:  store,
		syncer: syncer,
		opts:   o,
		cron:   engine,
	}
}

// Schedule registers the batch run under a standard five field cron spec
func (s *Service) Schedule(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.opts.Logger.Error("Scheduled worklog sync failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	s.opts.Logger.Info("Scheduled worklog sync", "schedule", spec)
	return nil
}

// Run starts the cron loop and blocks until ctx is cancelled. Running jobs
// are awaited before it returns.
func (s *Service) Run(ctx context.Context) error {
	s.startOnce.Do(s.cron.Start)
	<-ctx.Done()
	s.stop()
	return nil
}

func (s *Service) stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
	})
}

// RunOnce syncs every credential pair once. Failures of single pairs are
// logged and counted. Only a failure to list the pairs aborts the run.
func (s *Service) RunOnce(ctx context.Context) (RunResult, error) {
	result := RunResult{RunID: s.opts.RunID()}
	start := time.Now()

	run := func(ctx context.Context) (int, int, error) {
		err := s.syncAll(ctx, &result)
		return result.Synced, result.Failed, err
	}

	var err error
	if s.opts.Tracer != nil {
		_, _, err = s.opts.Tracer.TraceSyncBatch(ctx, result.RunID, run)
	} else {
		_, _, err = run(ctx)
	}

	result.Duration = time.Since(start)
	if s.opts.Recorder != nil {
		s.opts.Recorder.RecordSyncBatch(result.Synced, result.Failed, result.Duration, err)
	}

	logger := s.opts.Logger.With("run_id", result.RunID)
	if err != nil {
		logger.Error("Worklog sync run failed", "error", err)
		return result, err
	}
	logger.Info("Worklog sync run finished",
		"pairs", result.Pairs,
		"skipped", result.Skipped,
		"pairs_failed", result.PairsFailed,
		"synced", result.Synced,
		"failed", result.Failed,
		"duration", result.Duration)
	return result, nil
}

func (s *Service) syncAll(ctx context.Context, result *RunResult) error {
	pairs, err := s.store.ListUserTicketsystems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	for _, ut := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Pairs++

		if ut.AvoidConnection {
			result.Skipped++
			continue
		}

		user, ts, err := s.load(ctx, ut)
		if err != nil {
			s.opts.Logger.Warn("Skipping credential pair",
				"run_id", result.RunID,
				"user_id", ut.UserID,
				"ticket_system_id", ut.TicketSystemID,
				"error", err)
			result.PairsFailed++
			continue
		}
		if !ts.IsJira() || !ts.BookTime {
			result.Skipped++
			continue
		}

		batch, err := s.syncer.UpdateEntriesWorkLogsLimited(ctx, user, ts, s.opts.Limit)
		result.Synced += batch.Synced
		result.Failed += batch.Failed
		if err != nil {
			s.opts.Logger.Error("Batch worklog sync failed",
				"run_id", result.RunID,
				"user_id", user.ID,
				"ticket_system_id", ts.ID,
				"error", err)
			result.PairsFailed++
		}
	}
	return nil
}

func (s *Service) load(ctx context.Context, ut *models.UserTicketsystem) (*models.User, *models.TicketSystem, error) {
	user, err := s.store.FindUser(ctx, ut.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("user %d: %w", ut.UserID, err)
	}
	ts, err := s.store.FindTicketSystem(ctx, ut.TicketSystemID)
	if err != nil {
		return nil, nil, fmt.Errorf("ticket system %d: %w", ut.TicketSystemID, err)
	}
	return user, ts, nil
}
