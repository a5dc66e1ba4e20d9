package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/netresearch/timetracker-sub002/internal/errors"
	"github.com/netresearch/timetracker-sub002/internal/jira"
	"github.com/netresearch/timetracker-sub002/internal/models"
	"github.com/netresearch/timetracker-sub002/internal/storage"
)

// UserHeader carries the id of the acting timetracker user
const UserHeader = "X-User-ID"

// verifier Jira sends when the user declines access
const deniedVerifier = "denied"

type statusResponse struct {
	TicketSystemID int64 `json:"ticket_system_id"`
	Connected      bool  `json:"connected"`
}

type avoidResponse struct {
	TicketSystemID  int64 `json:"ticket_system_id"`
	AvoidConnection bool  `json:"avoid_connection"`
}

// handleAuthorize starts the handshake and sends the browser to Jira
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	user, ts, err := s.resolve(r)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	client, err := s.deps.Signers(user, ts).Client(r.Context(), jira.TokenModeNew, "")
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	token, err := s.deps.Auth.FetchOAuthRequestToken(r.Context(), client, user, ts)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	http.Redirect(w, r, s.deps.Auth.OAuthAuthURL(ts, token), http.StatusFound)
}

// handleCallback exchanges the authorized request token for an access token
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	user, ts, err := s.resolve(r)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	query := r.URL.Query()
	requestToken := query.Get("oauth_token")
	verifier := query.Get("oauth_verifier")
	if requestToken == "" {
		s.errors.HandleError(w, r, errors.NewError(errors.ErrCodeInvalidRequest).
			WithMessage("oauth_token is required").
			Build())
		return
	}
	if verifier == "" || verifier == deniedVerifier {
		s.errors.HandleError(w, r, errors.NewJiraUnauthorizedError("Jira access was not granted", nil))
		return
	}

	client, err := s.deps.Signers(user, ts).Client(r.Context(), jira.TokenModeRequest, requestToken)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	if _, err := s.deps.Auth.FetchOAuthAccessToken(r.Context(), client, user, ts, requestToken, verifier); err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	s.logger.Info("Jira account connected", "user_id", user.ID, "ticket_system_id", ts.ID)

	if s.opts.ReturnURL != "" {
		http.Redirect(w, r, s.opts.ReturnURL, http.StatusFound)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{TicketSystemID: ts.ID, Connected: true})
}

// handleRevoke forgets the stored tokens
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	user, ts, err := s.resolve(r)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	if err := s.deps.Auth.DeleteTokens(r.Context(), user, ts); err != nil {
		s.errors.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAvoid sets the sync opt-out of the user. avoid=false lifts it again;
// a missing value opts out.
func (s *Server) handleAvoid(w http.ResponseWriter, r *http.Request) {
	user, ts, err := s.resolve(r)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	avoid := true
	if raw := r.URL.Query().Get("avoid"); raw != "" {
		avoid, err = strconv.ParseBool(raw)
		if err != nil {
			s.errors.HandleError(w, r, errors.ValidationError("avoid", "must be true or false"))
			return
		}
	}

	if err := s.deps.Auth.SetAvoidConnection(r.Context(), user, ts, avoid); err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	s.logger.Info("Jira sync opt-out changed",
		"user_id", user.ID,
		"ticket_system_id", ts.ID,
		"avoid_connection", avoid)
	s.writeJSON(w, http.StatusOK, avoidResponse{TicketSystemID: ts.ID, AvoidConnection: avoid})
}

// handleStatus reports whether the stored tokens still work against Jira
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, ts, err := s.resolve(r)
	if err != nil {
		s.errors.HandleError(w, r, err)
		return
	}

	connected := s.deps.Validator.ValidateJiraConnection(r.Context(), user, ts)
	s.writeJSON(w, http.StatusOK, statusResponse{TicketSystemID: ts.ID, Connected: connected})
}

// resolve loads the acting user and the Jira ticket system of the path
func (s *Server) resolve(r *http.Request) (*models.User, *models.TicketSystem, error) {
	userID, err := strconv.ParseInt(r.Header.Get(UserHeader), 10, 64)
	if err != nil || userID <= 0 {
		return nil, nil, errors.NewError(errors.ErrCodeUnauthorized).
			WithMessage(fmt.Sprintf("%s header is missing or invalid", UserHeader)).
			Build()
	}

	tsID, err := strconv.ParseInt(r.PathValue("ticketSystemID"), 10, 64)
	if err != nil {
		return nil, nil, errors.NewError(errors.ErrCodeInvalidRequest).
			WithMessage("Invalid ticket system id").
			WithDetails(r.PathValue("ticketSystemID")).
			Build()
	}

	user, err := s.deps.Store.FindUser(r.Context(), userID)
	if err != nil {
		return nil, nil, lookupError("User", userID, err)
	}

	ts, err := s.deps.Store.FindTicketSystem(r.Context(), tsID)
	if err != nil {
		return nil, nil, lookupError("Ticket system", tsID, err)
	}
	if !ts.IsJira() {
		return nil, nil, errors.NewError(errors.ErrCodeInvalidRequest).
			WithMessage("Ticket system is not a Jira instance").
			WithContext("ticket_system_id", tsID).
			Build()
	}

	return user, ts, nil
}

func lookupError(kind string, id int64, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.NewError(errors.ErrCodeNotFound).
			WithMessage(kind + " not found").
			WithContext("id", id).
			Build()
	}
	return errors.NewError(errors.ErrCodeDatabaseError).
		WithMessage("Failed to load " + kind).
		WithCause(err).
		Build()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}
