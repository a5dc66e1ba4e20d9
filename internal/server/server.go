// Package server exposes the OAuth handshake, health and metrics endpoints.
// The fronting timetracker application authenticates users and forwards
// their id in the X-User-ID header.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/jira"
	"github.com/netresearch/timetracker-sub002/internal/models"
	"github.com/netresearch/timetracker-sub002/internal/monitoring"
)

const (
	readHeaderTimeout = 30 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Store resolves the user and ticket system of a request
type Store interface {
	FindUser(ctx context.Context, id int64) (*models.User, error)
	FindTicketSystem(ctx context.Context, id int64) (*models.TicketSystem, error)
}

// OAuthFlow is the part of jira.AuthService the handshake endpoints drive
type OAuthFlow interface {
	FetchOAuthRequestToken(ctx context.Context, client *http.Client, user *models.User, ts *models.TicketSystem) (string, error)
	FetchOAuthAccessToken(ctx context.Context, client *http.Client, user *models.User, ts *models.TicketSystem, requestToken, verifier string) (string, error)
	OAuthAuthURL(ts *models.TicketSystem, token string) string
	DeleteTokens(ctx context.Context, user *models.User, ts *models.TicketSystem) error
	SetAvoidConnection(ctx context.Context, user *models.User, ts *models.TicketSystem, avoid bool) error
}

// Signer hands out OAuth signed clients. jira.HTTPClient implements it.
type Signer interface {
	Client(ctx context.Context, mode jira.TokenMode, oauthToken string) (*http.Client, error)
}

// SignerFactory builds a Signer for a (user, ticket system) pair
type SignerFactory func(user *models.User, ts *models.TicketSystem) Signer

// ConnectionValidator reports whether stored credentials still work
type ConnectionValidator interface {
	ValidateJiraConnection(ctx context.Context, user *models.User, ts *models.TicketSystem) bool
}

// Dependencies are the collaborators of the HTTP surface
type Dependencies struct {
	Store     Store
	Auth      OAuthFlow
	Signers   SignerFactory
	Validator ConnectionValidator
	Metrics   *monitoring.PrometheusMetrics
	Tracer    *monitoring.Tracer
	Health    *monitoring.HealthMonitor
}

// Options configure the listener and the rate limiter
type Options struct {
	Port string
	// ReturnURL is where the browser lands after a completed handshake.
	// Empty answers with JSON instead.
	ReturnURL string
	RateLimit *RateLimiterConfig
}

// Server represents the HTTP server
type Server struct {
	*http.Server
	deps        Dependencies
	opts        Options
	logger      *slog.Logger
	errors      *errors.Handler
	rateLimiter *HTTPRateLimiter
}

// New creates a new server instance
func New(opts Options, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:        deps,
		opts:        opts,
		logger:      logger,
		errors:      errors.NewHandler(logger),
		rateLimiter: NewHTTPRateLimiter(opts.RateLimit),
	}

	mux := http.NewServeMux()
	if deps.Health != nil {
		mux.Handle("GET /health", deps.Health)
	}
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /oauth/jira/{ticketSystemID}/authorize", s.handleAuthorize)
	mux.HandleFunc("GET /oauth/jira/{ticketSystemID}/callback", s.handleCallback)
	mux.HandleFunc("POST /oauth/jira/{ticketSystemID}/revoke", s.handleRevoke)
	mux.HandleFunc("POST /oauth/jira/{ticketSystemID}/avoid", s.handleAvoid)
	mux.HandleFunc("GET /oauth/jira/{ticketSystemID}/status", s.handleStatus)

	var handler http.Handler = mux
	if deps.Tracer != nil {
		handler = monitoring.TracingMiddleware(deps.Tracer)(handler)
	}
	if deps.Metrics != nil {
		handler = monitoring.PrometheusMiddleware(deps.Metrics, endpointLabel)(handler)
	}
	var blocks BlockRecorder
	if deps.Metrics != nil {
		blocks = deps.Metrics
	}
	handler = RateLimitMiddleware(s.rateLimiter, blocks, s.errors)(handler)

	s.Server = &http.Server{
		Addr:              ":" + opts.Port,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Start serves until the listener is closed
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.Addr)
	if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	return s.Server.Shutdown(ctx)
}

// endpointLabel maps a request path to a bounded metric label
func endpointLabel(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/health", path == "/metrics":
		return path
	case strings.HasPrefix(path, "/oauth/jira/"):
		action := path[strings.LastIndex(path, "/")+1:]
		switch action {
		case "authorize", "callback", "revoke", "avoid", "status":
			return "/oauth/jira/{id}/" + action
		}
		return "other"
	default:
		return "other"
	}
}
