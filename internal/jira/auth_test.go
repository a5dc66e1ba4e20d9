package jira

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/models"
)

func TestAuthService_OAuthHandshake(t *testing.T) {
	var requestTokenQuery, accessTokenQuery, accessAuthHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case requestTokenPath:
			requestTokenQuery = r.URL.RawQuery
			_, _ = w.Write([]byte("oauth_token=req-token&oauth_token_secret=req-secret&oauth_callback_confirmed=true"))
		case accessTokenPath:
			accessTokenQuery = r.URL.RawQuery
			accessAuthHeader = r.Header.Get("Authorization")
			_, _ = w.Write([]byte("oauth_token=access-token&oauth_token_secret=access-secret"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	env := newAuthEnv(t, server.URL)
	ctx := context.Background()
	hc := NewHTTPClient(env.user, env.ts, env.auth)

	newClient, err := hc.Client(ctx, TokenModeNew, "")
	require.NoError(t, err)

	requestToken, err := env.auth.FetchOAuthRequestToken(ctx, newClient, env.user, env.ts)
	require.NoError(t, err)
	assert.Equal(t, "req-token", requestToken)
	assert.Contains(t, requestTokenQuery, "oauth_callback=")

	requestClient, err := hc.Client(ctx, TokenModeRequest, requestToken)
	require.NoError(t, err)

	_, err = env.auth.FetchOAuthAccessToken(ctx, requestClient, env.user, env.ts, requestToken, "verifier-1")
	require.NoError(t, err)
	assert.Equal(t, "oauth_verifier=verifier-1", accessTokenQuery)
	assert.Contains(t, accessAuthHeader, `oauth_token="req-token"`)

	assert.Equal(t, 1, env.store.CredentialCount())

	tokens, err := env.auth.GetTokens(ctx, env.user, env.ts)
	require.NoError(t, err)
	assert.Equal(t, "access-token", tokens.Token)
	assert.Equal(t, "access-secret", tokens.Secret)

	stored, err := env.store.FindUserTicketsystem(ctx, env.user.ID, env.ts.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "access-token", stored.AccessToken)
	assert.False(t, stored.AvoidConnection)
}

func TestAuthService_FetchOAuthRequestToken_Failures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		contains string
	}{
		{"empty body", http.StatusOK, "", MsgEmptyOAuthResponse},
		{"oauth problem", http.StatusUnauthorized, "oauth_problem=token_rejected", "token_rejected"},
		{"multiple problems", http.StatusUnauthorized, "oauth_problem=a&oauth_problem=b", "OAuth problem: a, b"},
		{"no token", http.StatusOK, "foo=bar", MsgNoRequestToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			env := newAuthEnv(t, server.URL)
			_, err := env.auth.FetchOAuthRequestToken(context.Background(), server.Client(), env.user, env.ts)
			require.Error(t, err)
			assert.True(t, errors.IsJiraAPIError(err))
			assert.Contains(t, err.Error(), tt.contains)
			assert.Equal(t, 0, env.store.CredentialCount())
		})
	}
}

func TestAuthService_FetchOAuthAccessToken_MissingSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("oauth_token=access-token"))
	}))
	defer server.Close()

	env := newAuthEnv(t, server.URL)
	_, err := env.auth.FetchOAuthAccessToken(context.Background(), server.Client(), env.user, env.ts, "req", "v")
	require.Error(t, err)
	assert.Equal(t, MsgNoAccessToken, err.Error())
}

func TestAuthService_CheckUserTicketSystem(t *testing.T) {
	ctx := context.Background()

	env := newAuthEnv(t, "https://jira.example.com")
	assert.False(t, env.auth.CheckUserTicketSystem(ctx, env.user, env.ts), "no row")

	env.connect(t, "token", "secret")
	assert.True(t, env.auth.CheckUserTicketSystem(ctx, env.user, env.ts), "row without opt-out")

	require.NoError(t, env.auth.SetAvoidConnection(ctx, env.user, env.ts, true))
	assert.False(t, env.auth.CheckUserTicketSystem(ctx, env.user, env.ts), "avoid connection")

	assert.False(t, env.auth.CheckUserTicketSystem(ctx, nil, env.ts))
}

func TestAuthService_GetTokens_LegacyPlainText(t *testing.T) {
	ctx := context.Background()
	env := newAuthEnv(t, "https://jira.example.com")

	require.NoError(t, env.store.SaveUserTicketsystem(ctx, &models.UserTicketsystem{
		UserID:         env.user.ID,
		TicketSystemID: env.ts.ID,
		AccessToken:    "legacy-token",
		TokenSecret:    "legacy-secret",
	}))

	tokens, err := env.auth.GetTokens(ctx, env.user, env.ts)
	require.NoError(t, err)
	assert.Equal(t, "legacy-token", tokens.Token)
	assert.Equal(t, "legacy-secret", tokens.Secret)

	other := &models.User{ID: 99}
	empty, err := env.auth.GetTokens(ctx, other, env.ts)
	require.NoError(t, err)
	assert.True(t, empty.Empty())
}

func TestAuthService_Authenticate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, env *authEnv)
		wantErr string
	}{
		{
			name:    "no row",
			setup:   func(*testing.T, *authEnv) {},
			wantErr: MsgNoCredentials,
		},
		{
			name: "avoid connection",
			setup: func(t *testing.T, env *authEnv) {
				env.connect(t, "token", "secret")
				require.NoError(t, env.auth.SetAvoidConnection(ctx, env.user, env.ts, true))
			},
			wantErr: MsgConnectionAvoided,
		},
		{
			name: "empty secret",
			setup: func(t *testing.T, env *authEnv) {
				env.connect(t, "token", "")
			},
			wantErr: MsgMissingAccessTokenPair,
		},
		{
			name: "valid",
			setup: func(t *testing.T, env *authEnv) {
				env.connect(t, "token", "secret")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAuthEnv(t, "https://jira.example.com")
			tt.setup(t, env)

			err := env.auth.Authenticate(ctx, env.user, env.ts)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsJiraUnauthorized(err))
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestAuthService_DeleteTokens(t *testing.T) {
	ctx := context.Background()
	env := newAuthEnv(t, "https://jira.example.com")

	require.NoError(t, env.auth.DeleteTokens(ctx, env.user, env.ts), "no-op without row")

	env.connect(t, "token", "secret")
	require.NoError(t, env.auth.DeleteTokens(ctx, env.user, env.ts))
	assert.Equal(t, 0, env.store.CredentialCount())
}

func TestAuthService_MutationsRequirePair(t *testing.T) {
	ctx := context.Background()
	env := newAuthEnv(t, "https://jira.example.com")

	for name, call := range map[string]func(*models.User, *models.TicketSystem) error{
		"delete": func(u *models.User, ts *models.TicketSystem) error { return env.auth.DeleteTokens(ctx, u, ts) },
		"avoid": func(u *models.User, ts *models.TicketSystem) error {
			return env.auth.SetAvoidConnection(ctx, u, ts, true)
		},
	} {
		t.Run(name, func(t *testing.T) {
			for _, err := range []error{call(nil, env.ts), call(env.user, nil)} {
				require.Error(t, err)
				assert.Equal(t, MsgMissingUserTicketSystem, err.Error())
			}
			assert.Equal(t, 0, env.store.CredentialCount())
		})
	}
}

func TestAuthService_URLs(t *testing.T) {
	env := newAuthEnv(t, "https://jira.example.com/")

	assert.Equal(t, "https://jira.example.com/plugins/servlet/oauth/authorize?oauth_token=abc+def",
		env.auth.OAuthAuthURL(env.ts, "abc def"))
	assert.True(t, strings.HasSuffix(env.auth.OAuthCallbackURL(env.ts), "/oauth/jira/7/callback"))

	previous := errors.NewJiraAPIErrorf("HTTP 401")
	err := env.auth.UnauthorizedRedirect(env.ts, previous)
	assert.True(t, errors.IsJiraUnauthorized(err))
	assert.Equal(t, errors.MsgUnauthorizedRedirect, err.Error())
}
