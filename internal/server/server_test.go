package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/jira"
	"github.com/netresearch/timetracker-sub002/internal/models"
	"github.com/netresearch/timetracker-sub002/internal/monitoring"
	"github.com/netresearch/timetracker-sub002/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuth struct {
	requestToken string
	requestErr   error
	accessErr    error
	deleteErr    error
	avoidErr     error

	gotRequestToken string
	gotVerifier     string
	deleted         int
	avoided         []bool
}

func (f *fakeAuth) FetchOAuthRequestToken(_ context.Context, _ *http.Client, _ *models.User, _ *models.TicketSystem) (string, error) {
	return f.requestToken, f.requestErr
}

func (f *fakeAuth) FetchOAuthAccessToken(_ context.Context, _ *http.Client, _ *models.User, _ *models.TicketSystem, requestToken, verifier string) (string, error) {
	f.gotRequestToken, f.gotVerifier = requestToken, verifier
	return "access", f.accessErr
}

func (f *fakeAuth) OAuthAuthURL(ts *models.TicketSystem, token string) string {
	return ts.BaseURL() + "/plugins/servlet/oauth/authorize?oauth_token=" + token
}

func (f *fakeAuth) DeleteTokens(context.Context, *models.User, *models.TicketSystem) error {
	f.deleted++
	return f.deleteErr
}

func (f *fakeAuth) SetAvoidConnection(_ context.Context, _ *models.User, _ *models.TicketSystem, avoid bool) error {
	f.avoided = append(f.avoided, avoid)
	return f.avoidErr
}

type fakeSigner struct {
	modes  []jira.TokenMode
	tokens []string
	err    error
}

func (f *fakeSigner) Client(_ context.Context, mode jira.TokenMode, token string) (*http.Client, error) {
	f.modes = append(f.modes, mode)
	f.tokens = append(f.tokens, token)
	return http.DefaultClient, f.err
}

type fakeValidator struct{ connected bool }

func (f fakeValidator) ValidateJiraConnection(context.Context, *models.User, *models.TicketSystem) bool {
	return f.connected
}

type testEnv struct {
	store   *storage.MemoryStore
	auth    *fakeAuth
	signer  *fakeSigner
	metrics *monitoring.PrometheusMetrics
	server  *Server
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	store := storage.NewMemoryStore()
	store.AddUser(&models.User{ID: 1, Username: "jdoe"})
	store.AddTicketSystem(&models.TicketSystem{
		ID: 7, Name: "Jira", Type: models.TicketSystemTypeJira, URL: "https://jira.example.com",
	})
	store.AddTicketSystem(&models.TicketSystem{ID: 8, Name: "OTRS", Type: models.TicketSystemTypeOTRS})

	env := &testEnv{
		store:   store,
		auth:    &fakeAuth{requestToken: "req-token"},
		signer:  &fakeSigner{},
		metrics: monitoring.NewPrometheusMetrics(testLogger()),
	}
	tracer, err := monitoring.NewTracer(&monitoring.TracingConfig{ServiceName: "test"}, testLogger())
	require.NoError(t, err)

	health := monitoring.NewHealthMonitor(testLogger(), "test")
	health.RegisterChecker("database", monitoring.CheckFunc(func(context.Context) error { return nil }), true)

	env.server = New(opts, Dependencies{
		Store:     store,
		Auth:      env.auth,
		Signers:   func(*models.User, *models.TicketSystem) Signer { return env.signer },
		Validator: fakeValidator{connected: true},
		Metrics:   env.metrics,
		Tracer:    tracer,
		Health:    health,
	}, testLogger())
	return env
}

func (e *testEnv) do(method, target string, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if userID != "" {
		req.Header.Set(UserHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) errors.ErrorCode {
	t.Helper()
	var body errors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestNew(t *testing.T) {
	env := newTestEnv(t, Options{Port: "9090"})
	assert.Equal(t, ":9090", env.server.Addr)
	assert.Equal(t, readHeaderTimeout, env.server.ReadHeaderTimeout)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"overall_status":"healthy"`)

	rec = env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `timetracker_jira_http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`)
}

func TestAuthorize(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodGet, "/oauth/jira/7/authorize", "1")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://jira.example.com/plugins/servlet/oauth/authorize?oauth_token=req-token",
		rec.Header().Get("Location"))
	assert.Equal(t, []jira.TokenMode{jira.TokenModeNew}, env.signer.modes)
}

func TestAuthorize_JiraFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.auth.requestErr = errors.NewJiraAPIError("oauth_problem=consumer_key_unknown", nil)

	rec := env.do(http.MethodGet, "/oauth/jira/7/authorize", "1")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, errors.ErrCodeJiraAPIError, errorCode(t, rec))
}

func TestCallback(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodGet, "/oauth/jira/7/callback?oauth_token=req-token&oauth_verifier=v3r", "1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticket_system_id":7,"connected":true}`, rec.Body.String())
	assert.Equal(t, []jira.TokenMode{jira.TokenModeRequest}, env.signer.modes)
	assert.Equal(t, []string{"req-token"}, env.signer.tokens)
	assert.Equal(t, "req-token", env.auth.gotRequestToken)
	assert.Equal(t, "v3r", env.auth.gotVerifier)
}

func TestCallback_RedirectsToReturnURL(t *testing.T) {
	env := newTestEnv(t, Options{ReturnURL: "https://tt.example.com/"})

	rec := env.do(http.MethodGet, "/oauth/jira/7/callback?oauth_token=t&oauth_verifier=v", "1")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://tt.example.com/", rec.Header().Get("Location"))
}

func TestCallback_BadParameters(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantErr  errors.ErrorCode
	}{
		{"missing token", "?oauth_verifier=v", http.StatusBadRequest, errors.ErrCodeInvalidRequest},
		{"missing verifier", "?oauth_token=t", http.StatusUnauthorized, errors.ErrCodeJiraUnauthorized},
		{"denied", "?oauth_token=t&oauth_verifier=denied", http.StatusUnauthorized, errors.ErrCodeJiraUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})

			rec := env.do(http.MethodGet, "/oauth/jira/7/callback"+tt.query, "1")

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
			assert.Empty(t, env.signer.modes)
		})
	}
}

func TestRevoke(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/oauth/jira/7/revoke", "1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, env.auth.deleted)

	rec = env.do(http.MethodGet, "/oauth/jira/7/revoke", "1")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAvoid(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/oauth/jira/7/avoid", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticket_system_id":7,"avoid_connection":true}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/oauth/jira/7/avoid?avoid=false", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticket_system_id":7,"avoid_connection":false}`, rec.Body.String())

	assert.Equal(t, []bool{true, false}, env.auth.avoided)

	rec = env.do(http.MethodPost, "/oauth/jira/7/avoid?avoid=maybe", "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.ErrCodeValidationFailed, errorCode(t, rec))
	assert.Len(t, env.auth.avoided, 2)

	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/oauth/jira/7/avoid", "1").Code)
}

func TestAvoid_StoreFailure(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.auth.avoidErr = stderrors.New("disk full")

	rec := env.do(http.MethodPost, "/oauth/jira/7/avoid", "1")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errors.ErrCodeInternalError, errorCode(t, rec))
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodGet, "/oauth/jira/7/status", "1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ticket_system_id":7,"connected":true}`, rec.Body.String())
}

func TestResolveErrors(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		user     string
		wantCode int
		wantErr  errors.ErrorCode
	}{
		{"no user header", "/oauth/jira/7/status", "", http.StatusUnauthorized, errors.ErrCodeUnauthorized},
		{"garbage user header", "/oauth/jira/7/status", "abc", http.StatusUnauthorized, errors.ErrCodeUnauthorized},
		{"unknown user", "/oauth/jira/7/status", "42", http.StatusNotFound, errors.ErrCodeNotFound},
		{"bad ticket system id", "/oauth/jira/x/status", "1", http.StatusBadRequest, errors.ErrCodeInvalidRequest},
		{"unknown ticket system", "/oauth/jira/99/status", "1", http.StatusNotFound, errors.ErrCodeNotFound},
		{"not jira", "/oauth/jira/8/status", "1", http.StatusBadRequest, errors.ErrCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})

			rec := env.do(http.MethodGet, tt.target, tt.user)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
		})
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: &RateLimiterConfig{Rate: 0.001, Burst: 2}})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)

	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, errors.ErrCodeRateLimited, errorCode(t, rec))

	metrics := env.do(http.MethodGet, "/metrics", "")
	// the metrics request itself is limited as well
	assert.Equal(t, http.StatusTooManyRequests, metrics.Code)
}

func TestEndpointLabel(t *testing.T) {
	tests := map[string]string{
		"/health":                 "/health",
		"/metrics":                "/metrics",
		"/oauth/jira/7/authorize": "/oauth/jira/{id}/authorize",
		"/oauth/jira/7/status":    "/oauth/jira/{id}/status",
		"/oauth/jira/7/avoid":     "/oauth/jira/{id}/avoid",
		"/oauth/jira/7/bogus":     "other",
		"/favicon.ico":            "other",
	}

	for path, want := range tests {
		t.Run(strings.TrimPrefix(path, "/"), func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			assert.Equal(t, want, endpointLabel(req))
		})
	}
}
