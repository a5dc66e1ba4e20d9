package jira

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/models"
)

// OAuth endpoints relative to the ticket system base URL
const (
	requestTokenPath = "/plugins/servlet/oauth/request-token"
	accessTokenPath  = "/plugins/servlet/oauth/access-token"
	authorizePath    = "/plugins/servlet/oauth/authorize"
)

// OAuth handshake failures
const (
	MsgEmptyOAuthResponse      = "Empty response from Jira OAuth endpoint"
	MsgNoRequestToken          = "Could not fetch OAuth request token"
	MsgNoAccessToken           = "Could not fetch OAuth access token"
	MsgNoCredentials           = "No Jira credentials stored for this user"
	MsgConnectionAvoided       = "Jira connection is disabled for this user"
	MsgMissingAccessTokenPair  = "Jira OAuth token or secret is missing"
	MsgMissingUserTicketSystem = "User and ticket system are required"
)

// CredentialStore persists UserTicketsystem rows
type CredentialStore interface {
	// FindUserTicketsystem returns nil and no error when no row exists
	FindUserTicketsystem(ctx context.Context, userID, ticketSystemID int64) (*models.UserTicketsystem, error)
	SaveUserTicketsystem(ctx context.Context, ut *models.UserTicketsystem) error
	DeleteUserTicketsystem(ctx context.Context, id int64) error
}

// TokenEncryptor encrypts tokens at rest
type TokenEncryptor interface {
	EncryptToken(plain string) (string, error)
	DecryptToken(ciphertext string) (string, error)
}

// CallbackURLFunc returns the absolute URL Jira redirects to after authorization
type CallbackURLFunc func(ts *models.TicketSystem) string

// Tokens is a decrypted OAuth token pair
type Tokens struct {
	Token  string
	Secret string
}

// Empty reports whether either part is missing
func (t Tokens) Empty() bool {
	return t.Token == "" || t.Secret == ""
}

// AuthService owns the per (user, ticket system) OAuth credentials
type AuthService struct {
	store       CredentialStore
	encryptor   TokenEncryptor
	callbackURL CallbackURLFunc
	logger      *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(store CredentialStore, encryptor TokenEncryptor, callbackURL CallbackURLFunc, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		store:       store,
		encryptor:   encryptor,
		callbackURL: callbackURL,
		logger:      logger,
	}
}

// OAuthCallbackURL returns the absolute callback URL for ts
func (s *AuthService) OAuthCallbackURL(ts *models.TicketSystem) string {
	if s.callbackURL == nil {
		return ""
	}
	return s.callbackURL(ts)
}

// OAuthAuthURL returns the Jira page where the user authorizes token
func (s *AuthService) OAuthAuthURL(ts *models.TicketSystem, token string) string {
	return ts.BaseURL() + authorizePath + "?oauth_token=" + url.QueryEscape(token)
}

// FetchOAuthRequestToken starts the handshake. client must sign with empty
// credentials (TokenModeNew). The temporary token is stored encrypted.
func (s *AuthService) FetchOAuthRequestToken(ctx context.Context, client *http.Client, user *models.User, ts *models.TicketSystem) (string, error) {
	if user == nil || ts == nil {
		return "", errors.NewJiraAPIError(MsgMissingUserTicketSystem, nil)
	}

	endpoint := ts.BaseURL() + requestTokenPath
	if callback := s.OAuthCallbackURL(ts); callback != "" {
		endpoint += "?" + url.Values{"oauth_callback": {callback}}.Encode()
	}

	values, err := s.postOAuth(ctx, client, endpoint)
	if err != nil {
		return "", err
	}

	token := values.Get("oauth_token")
	if token == "" {
		return "", errors.NewJiraAPIError(MsgNoRequestToken, nil)
	}

	if err := s.storeTokens(ctx, user, ts, token, values.Get("oauth_token_secret"), nil); err != nil {
		return "", err
	}

	s.logger.Info("Fetched Jira OAuth request token",
		"user_id", user.ID,
		"ticket_system_id", ts.ID)

	return token, nil
}

// FetchOAuthAccessToken exchanges an authorized request token for the
// access token. client must sign with requestToken (TokenModeRequest).
func (s *AuthService) FetchOAuthAccessToken(
	ctx context.Context,
	client *http.Client,
	user *models.User,
	ts *models.TicketSystem,
	requestToken, verifier string,
) (string, error) {
	if user == nil || ts == nil {
		return "", errors.NewJiraAPIError(MsgMissingUserTicketSystem, nil)
	}
	if requestToken == "" {
		return "", errors.NewError(errors.ErrCodeJiraAPIError).
			WithMessage(MsgNoAccessToken).
			WithDetails("request token is empty").
			Build()
	}

	endpoint := ts.BaseURL() + accessTokenPath + "?" + url.Values{"oauth_verifier": {verifier}}.Encode()

	values, err := s.postOAuth(ctx, client, endpoint)
	if err != nil {
		return "", err
	}

	token := values.Get("oauth_token")
	secret := values.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return "", errors.NewJiraAPIError(MsgNoAccessToken, nil)
	}

	avoid := false
	if err := s.storeTokens(ctx, user, ts, token, secret, &avoid); err != nil {
		return "", err
	}

	s.logger.Info("Stored Jira OAuth access token",
		"user_id", user.ID,
		"ticket_system_id", ts.ID)

	return token, nil
}

// postOAuth posts to an OAuth endpoint and parses the urlencoded answer.
// The body is parsed regardless of the status code because Jira reports
// oauth_problem in 401 responses.
func (s *AuthService) postOAuth(ctx context.Context, client *http.Client, endpoint string) (url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create OAuth request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.NewJiraAPIError(errors.MsgNetworkError, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewJiraAPIError(errors.MsgNetworkError, err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.NewJiraAPIError(MsgEmptyOAuthResponse, nil)
	}

	// ParseQuery keeps every pair it could decode
	values, _ := url.ParseQuery(string(body))

	if problems := values["oauth_problem"]; len(problems) > 0 {
		return nil, errors.NewError(errors.ErrCodeJiraAPIError).
			WithMessage("OAuth problem: " + strings.Join(problems, ", ")).
			WithContext("status_code", resp.StatusCode).
			Build()
	}

	return values, nil
}

func (s *AuthService) storeTokens(ctx context.Context, user *models.User, ts *models.TicketSystem, token, secret string, avoid *bool) error {
	ut, err := s.store.FindUserTicketsystem(ctx, user.ID, ts.ID)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if ut == nil {
		ut = &models.UserTicketsystem{UserID: user.ID, TicketSystemID: ts.ID}
	}

	encToken, err := s.encryptor.EncryptToken(token)
	if err != nil {
		return fmt.Errorf("failed to encrypt token: %w", err)
	}
	encSecret, err := s.encryptor.EncryptToken(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt token secret: %w", err)
	}

	ut.AccessToken = encToken
	ut.TokenSecret = encSecret
	if avoid != nil {
		ut.AvoidConnection = *avoid
	}

	if err := s.store.SaveUserTicketsystem(ctx, ut); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// GetTokens returns the decrypted token pair. Without a stored row both
// parts are empty. Values that fail to decrypt are returned as stored.
func (s *AuthService) GetTokens(ctx context.Context, user *models.User, ts *models.TicketSystem) (Tokens, error) {
	if user == nil || ts == nil {
		return Tokens{}, nil
	}

	ut, err := s.store.FindUserTicketsystem(ctx, user.ID, ts.ID)
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to load credentials: %w", err)
	}
	if ut == nil {
		return Tokens{}, nil
	}

	return Tokens{
		Token:  s.decrypt(ut.AccessToken),
		Secret: s.decrypt(ut.TokenSecret),
	}, nil
}

func (s *AuthService) decrypt(value string) string {
	if value == "" {
		return ""
	}
	plain, err := s.encryptor.DecryptToken(value)
	if err != nil {
		// stored before encryption was introduced
		s.logger.Debug("Using stored Jira token as plain text", "error", err)
		return value
	}
	return plain
}

// DeleteTokens removes the stored credentials, if any
func (s *AuthService) DeleteTokens(ctx context.Context, user *models.User, ts *models.TicketSystem) error {
	if user == nil || ts == nil {
		return errors.NewJiraAPIError(MsgMissingUserTicketSystem, nil)
	}
	ut, err := s.store.FindUserTicketsystem(ctx, user.ID, ts.ID)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if ut == nil {
		return nil
	}

	if err := s.store.DeleteUserTicketsystem(ctx, ut.ID); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	s.logger.Info("Deleted Jira OAuth tokens",
		"user_id", user.ID,
		"ticket_system_id", ts.ID)
	return nil
}

// SetAvoidConnection toggles the explicit opt-out for a (user, ticket system)
// pair, creating the row when needed.
func (s *AuthService) SetAvoidConnection(ctx context.Context, user *models.User, ts *models.TicketSystem, avoid bool) error {
	if user == nil || ts == nil {
		return errors.NewJiraAPIError(MsgMissingUserTicketSystem, nil)
	}
	ut, err := s.store.FindUserTicketsystem(ctx, user.ID, ts.ID)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if ut == nil {
		ut = &models.UserTicketsystem{UserID: user.ID, TicketSystemID: ts.ID}
	}
	ut.AvoidConnection = avoid

	if err := s.store.SaveUserTicketsystem(ctx, ut); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// CheckUserTicketSystem reports whether a credential row exists and the
// user did not opt out of syncing.
func (s *AuthService) CheckUserTicketSystem(ctx context.Context, user *models.User, ts *models.TicketSystem) bool {
	if user == nil || ts == nil {
		return false
	}

	ut, err := s.store.FindUserTicketsystem(ctx, user.ID, ts.ID)
	if err != nil {
		s.logger.Warn("Failed to load Jira credentials",
			"user_id", user.ID,
			"ticket_system_id", ts.ID,
			"error", err)
		return false
	}
	return ut != nil && !ut.AvoidConnection
}

// Authenticate is the gate every remote call passes. It fails with an
// unauthorized error when no usable credentials exist.
func (s *AuthService) Authenticate(ctx context.Context, user *models.User, ts *models.TicketSystem) error {
	if user == nil || ts == nil {
		return errors.NewJiraUnauthorizedError(MsgMissingUserTicketSystem, nil)
	}

	ut, err := s.store.FindUserTicketsystem(ctx, user.ID, ts.ID)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if ut == nil {
		return errors.NewJiraUnauthorizedError(MsgNoCredentials, nil)
	}
	if ut.AvoidConnection {
		return errors.NewJiraUnauthorizedError(MsgConnectionAvoided, nil)
	}

	tokens := Tokens{Token: s.decrypt(ut.AccessToken), Secret: s.decrypt(ut.TokenSecret)}
	if tokens.Empty() {
		return errors.NewJiraUnauthorizedError(MsgMissingAccessTokenPair, nil)
	}
	return nil
}

// UnauthorizedRedirect returns the error that sends the user back through
// the OAuth handshake. previous is kept as cause.
func (s *AuthService) UnauthorizedRedirect(ts *models.TicketSystem, previous error) error {
	b := errors.NewError(errors.ErrCodeJiraUnauthorized).
		WithMessage(errors.MsgUnauthorizedRedirect).
		WithCause(previous)
	if ts != nil {
		b = b.WithContext("ticket_system_id", ts.ID)
	}
	return b.Build()
}
