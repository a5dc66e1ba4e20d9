// Package app wires configuration, storage, the Jira services and the host
// surfaces (HTTP server and scheduler) together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/netresearch/timetracker-sub002/internal/config"
	"github.com/netresearch/timetracker-sub002/internal/integration"
	"github.com/netresearch/timetracker-sub002/internal/jira"
	"github.com/netresearch/timetracker-sub002/internal/models"
	"github.com/netresearch/timetracker-sub002/internal/monitoring"
	"github.com/netresearch/timetracker-sub002/internal/scheduler"
	"github.com/netresearch/timetracker-sub002/internal/server"
	"github.com/netresearch/timetracker-sub002/internal/storage"
	"github.com/netresearch/timetracker-sub002/internal/timezone"
	"github.com/netresearch/timetracker-sub002/internal/tokencrypt"
	"github.com/netresearch/timetracker-sub002/internal/version"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// App holds the wired service graph
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store

	Metrics *monitoring.PrometheusMetrics
	Tracer  *monitoring.Tracer
	Health  *monitoring.HealthMonitor

	Auth        *jira.AuthService
	WorkLogs    *jira.WorkLogService
	Integration *integration.Service
	Scheduler   *scheduler.Service

	httpClient *http.Client
	limiter    *rate.Limiter
}

// New opens the configured database and builds the service graph
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	tz, err := timezone.NewManager(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	store.SetTimezone(tz)

	a, err := NewWithStore(cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// NewWithStore builds the service graph on top of store
func NewWithStore(cfg *config.Config, store storage.Store, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	encryptor, err := tokencrypt.New(cfg.TokenEncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token encryptor: %w", err)
	}

	tracer, err := monitoring.NewTracer(&monitoring.TracingConfig{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Metrics:    monitoring.NewPrometheusMetrics(logger),
		Tracer:     tracer,
		Health:     monitoring.NewHealthMonitor(logger, version.Version),
		httpClient: &http.Client{Timeout: cfg.JiraTimeout()},
		limiter:    rate.NewLimiter(rate.Limit(cfg.JiraRateLimit), cfg.JiraRateBurst),
	}

	a.Auth = jira.NewAuthService(store, encryptor, func(ts *models.TicketSystem) string {
		return cfg.CallbackURL(ts.ID)
	}, logger)

	a.WorkLogs = jira.NewWorkLogService(a.jiraAPI, a.Auth, store, a.Metrics, logger)
	a.Integration = integration.NewService(store, a.WorkLogs, a.ticketOps, a.Auth, logger)

	a.Scheduler = scheduler.NewService(store, a.WorkLogs,
		scheduler.WithLogger(logger),
		scheduler.WithBatchLimit(cfg.SyncBatchLimit),
		scheduler.WithRecorder(a.Metrics),
		scheduler.WithTracer(a.Tracer),
	)

	if p, ok := store.(pinger); ok {
		a.Health.RegisterChecker("database", monitoring.CheckFunc(p.Ping), true)
	}

	return a, nil
}

// NewJiraClient returns a signed client for one (user, ticket system) pair.
// All clients share the HTTP transport and the outgoing rate limit.
func (a *App) NewJiraClient(user *models.User, ts *models.TicketSystem) *jira.HTTPClient {
	return jira.NewHTTPClient(user, ts, a.Auth,
		jira.WithHTTPClient(a.httpClient),
		jira.WithRateLimiter(a.limiter),
		jira.WithRecorder(a.Metrics),
		jira.WithTracer(a.Tracer.GetTracer()),
		jira.WithLogger(a.Logger),
	)
}

func (a *App) jiraAPI(user *models.User, ts *models.TicketSystem) jira.API {
	return a.NewJiraClient(user, ts)
}

func (a *App) ticketOps(user *models.User, ts *models.TicketSystem) integration.TicketOps {
	return jira.NewTicketService(a.NewJiraClient(user, ts), a.Logger)
}

// Server builds the HTTP surface
func (a *App) Server() *server.Server {
	return server.New(server.Options{
		Port:      a.Config.Port,
		ReturnURL: a.Config.OAuthReturnURL,
	}, server.Dependencies{
		Store: a.Store,
		Auth:  a.Auth,
		Signers: func(user *models.User, ts *models.TicketSystem) server.Signer {
			return a.NewJiraClient(user, ts)
		},
		Validator: a.Integration,
		Metrics:   a.Metrics,
		Tracer:    a.Tracer,
		Health:    a.Health,
	}, a.Logger)
}

// Migrate applies database migrations when the store supports them
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.Store.(interface{ Migrate(context.Context) error })
	if !ok {
		return nil
	}
	return m.Migrate(ctx)
}

// Close flushes traces and closes the store
func (a *App) Close(ctx context.Context) error {
	if err := a.Tracer.Shutdown(ctx); err != nil {
		a.Logger.Warn("Failed to flush traces", "error", err)
	}
	return a.Store.Close()
}
