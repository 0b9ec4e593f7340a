package http

import (
	"log/slog"
	"net/http"

	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/session"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/httputil"
)

// SessionHandler handles sign-up, sign-in and sign-out.
type SessionHandler struct {
	sessions Sessions
	logger   *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(sessions Sessions, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: logger}
}

type sessionResponse struct {
	SignedIn bool            `json:"signedIn"`
	Identity domain.Identity `json:"identity"`
}

func (h *SessionHandler) state() sessionResponse {
	id := h.sessions.Current()
	return sessionResponse{SignedIn: !id.IsZero(), Identity: id}
}

// Get handles GET /api/v1/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.state())
}

// SignUp handles POST /api/v1/session/signup
func (h *SessionHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req session.Credentials
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if !h.sessions.SignUp(r.Context(), req.Email, req.Password) {
		httputil.WriteError(w, r, apperrors.Conflict("could not create account"), h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, map[string]bool{"created": true})
}

// SignIn handles POST /api/v1/session/signin
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req session.Credentials
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if !h.sessions.SignIn(r.Context(), req.Email, req.Password) {
		httputil.WriteError(w, r, apperrors.AuthFailure("invalid email or password", nil), h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, h.state())
}

// SignOut handles POST /api/v1/session/signout
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	h.sessions.SignOut(r.Context())
	httputil.WriteData(w, http.StatusOK, h.state())
}
