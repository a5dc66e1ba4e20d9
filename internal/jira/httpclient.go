// Package jira talks to Jira Server's REST API on behalf of timetracker users.
// It handles the OAuth1.0a handshake, signs requests with the ticket system's
// RSA key and reconciles time entries with Jira worklogs.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/models"
)

// TokenMode selects the credentials a signed client uses
type TokenMode string

// Token modes
const (
	// TokenModeNew signs with empty credentials (request token endpoint)
	TokenModeNew TokenMode = "new"
	// TokenModeRequest signs with a request token that has no secret yet
	TokenModeRequest TokenMode = "request"
	// TokenModeUser signs with the user's stored access token
	TokenModeUser TokenMode = "user"
)

const (
	apiPrefix             = "/rest/api/latest/"
	defaultRequestTimeout = 30 * time.Second
	httpErrorThreshold    = 400
	tracerName            = "github.com/netresearch/timetracker-sub002/internal/jira"
)

// RequestRecorder observes completed Jira requests
type RequestRecorder interface {
	RecordJiraRequest(method string, statusCode int, duration time.Duration)
}

// API is the set of REST verbs the ticket and worklog services use
type API interface {
	Get(ctx context.Context, path string) (*Response, error)
	Post(ctx context.Context, path string, body any) (*Response, error)
	Put(ctx context.Context, path string, body any) (*Response, error)
	Delete(ctx context.Context, path string) (*Response, error)
	DoesResourceExist(ctx context.Context, path string) bool
}

type clientKey struct {
	mode  TokenMode
	token string
}

// HTTPClient issues signed requests for one (user, ticket system) pair.
// It is not safe for concurrent use.
type HTTPClient struct {
	user         *models.User
	ticketSystem *models.TicketSystem
	auth         *AuthService

	base     *http.Client
	limiter  *rate.Limiter
	recorder RequestRecorder
	tracer   trace.Tracer
	logger   *slog.Logger

	signer  *oauth1.RSASigner
	clients map[clientKey]*http.Client
}

// ClientOption configures an HTTPClient
type ClientOption func(*HTTPClient)

// WithHTTPClient sets the client whose transport and timeout signed clients reuse
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.base = client
	}
}

// WithRateLimiter paces outgoing requests
func WithRateLimiter(limiter *rate.Limiter) ClientOption {
	return func(c *HTTPClient) {
		c.limiter = limiter
	}
}

// WithRecorder records request metrics
func WithRecorder(recorder RequestRecorder) ClientOption {
	return func(c *HTTPClient) {
		c.recorder = recorder
	}
}

// WithTracer sets the tracer used for request spans
func WithTracer(tracer trace.Tracer) ClientOption {
	return func(c *HTTPClient) {
		c.tracer = tracer
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *HTTPClient) {
		c.logger = logger
	}
}

// NewHTTPClient creates a client bound to user and ts
func NewHTTPClient(user *models.User, ts *models.TicketSystem, auth *AuthService, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		user:         user,
		ticketSystem: ts,
		auth:         auth,
		base:         &http.Client{Timeout: defaultRequestTimeout},
		tracer:       otel.Tracer(tracerName),
		logger:       slog.Default(),
		clients:      make(map[clientKey]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Client returns a signed client for mode. Clients are cached per
// (mode, token) for the lifetime of c.
func (c *HTTPClient) Client(ctx context.Context, mode TokenMode, oauthToken string) (*http.Client, error) {
	var token *oauth1.Token

	switch mode {
	case TokenModeNew:
		token = oauth1.NewToken("", "")
	case TokenModeRequest:
		token = oauth1.NewToken(oauthToken, "")
	case TokenModeUser:
		tokens, err := c.auth.GetTokens(ctx, c.user, c.ticketSystem)
		if err != nil {
			return nil, err
		}
		if tokens.Empty() {
			return nil, c.auth.UnauthorizedRedirect(c.ticketSystem, nil)
		}
		token = oauth1.NewToken(tokens.Token, tokens.Secret)
	default:
		return nil, errors.NewJiraAPIErrorf("Invalid token mode: %s", mode)
	}

	key := clientKey{mode: mode, token: token.Token}
	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	signer, err := c.rsaSigner()
	if err != nil {
		return nil, err
	}

	config := oauth1.Config{
		ConsumerKey: c.ticketSystem.ConsumerKey(),
		CallbackURL: c.auth.OAuthCallbackURL(c.ticketSystem),
		Signer:      signer,
	}

	// the oauth1 transport wraps the transport of the client found in ctx
	baseCtx := context.WithValue(context.Background(), oauth1.HTTPClient, c.base)
	client := config.Client(baseCtx, token)
	client.Timeout = c.base.Timeout

	c.clients[key] = client
	return client, nil
}

func (c *HTTPClient) rsaSigner() (*oauth1.RSASigner, error) {
	if c.signer != nil {
		return c.signer, nil
	}
	if c.ticketSystem == nil {
		return nil, errors.NewJiraAPIError(MsgPrivateKeyNotConfigured, nil)
	}

	key, err := loadPrivateKey(c.ticketSystem.OAuthConsumerSecret)
	if err != nil {
		return nil, err
	}
	c.signer = &oauth1.RSASigner{PrivateKey: key}
	return c.signer, nil
}

// Get performs a GET request below the REST API root
func (c *HTTPClient) Get(ctx context.Context, path string) (*Response, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body
func (c *HTTPClient) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.request(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body
func (c *HTTPClient) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.request(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request
func (c *HTTPClient) Delete(ctx context.Context, path string) (*Response, error) {
	return c.request(ctx, http.MethodDelete, path, nil)
}

// DoesResourceExist probes path with HEAD. Every failure counts as absent.
func (c *HTTPClient) DoesResourceExist(ctx context.Context, path string) bool {
	client, err := c.Client(ctx, TokenModeUser, "")
	if err != nil {
		return false
	}

	status, _, err := c.send(ctx, client, http.MethodHead, c.apiURL(path), nil)
	if err != nil {
		c.logger.Debug("Jira resource probe failed", "path", path, "error", err)
		return false
	}
	return status >= 200 && status < 300
}

func (c *HTTPClient) request(ctx context.Context, method, path string, body any) (*Response, error) {
	client, err := c.Client(ctx, TokenModeUser, "")
	if err != nil {
		return nil, err
	}

	status, respBody, err := c.send(ctx, client, method, c.apiURL(path), body)
	if err != nil {
		return nil, err
	}
	if status >= httpErrorThreshold {
		return nil, c.translateError(method, path, status, respBody)
	}

	return newResponse(status, respBody)
}

// apiURL resolves path below {base}/rest/api/latest/
func (c *HTTPClient) apiURL(path string) string {
	return c.ticketSystem.BaseURL() + apiPrefix + strings.TrimLeft(path, "/")
}

// send executes one request. Only transport failures are returned as error;
// HTTP error statuses are left to the caller.
func (c *HTTPClient) send(ctx context.Context, client *http.Client, method, url string, body any) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, errors.NewJiraAPIError(errors.MsgNetworkError, err)
		}
	}

	ctx, span := c.tracer.Start(ctx, "jira."+strings.ToLower(method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", url),
			attribute.Int64("jira.ticket_system_id", c.ticketSystem.ID),
		))
	defer span.End()

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errors.MsgNetworkError)
		c.record(method, 0, time.Since(start))
		return 0, nil, errors.NewJiraAPIError(errors.MsgNetworkError, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	c.record(method, resp.StatusCode, time.Since(start))
	if err != nil {
		span.RecordError(err)
		return 0, nil, errors.NewJiraAPIError(errors.MsgNetworkError, err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= httpErrorThreshold {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return resp.StatusCode, respBody, nil
}

func (c *HTTPClient) record(method string, status int, d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordJiraRequest(method, status, d)
	}
}

// translateError maps an HTTP error status to the Jira error taxonomy
func (c *HTTPClient) translateError(method, path string, status int, body []byte) error {
	operation := method + " " + path

	switch status {
	case http.StatusUnauthorized:
		return c.auth.UnauthorizedRedirect(c.ticketSystem,
			errors.JiraHTTPError(status, extractErrorMessage(body), operation))
	case http.StatusNotFound:
		return errors.NewError(errors.ErrCodeJiraNotFound).
			WithMessage(errors.MsgResourceNotFound).
			WithContext("status_code", status).
			WithContext("operation", operation).
			Build()
	default:
		return errors.JiraHTTPError(status, extractErrorMessage(body), operation)
	}
}
