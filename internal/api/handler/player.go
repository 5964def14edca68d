package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mcoot/cryptoquiz-go/internal/api/middleware"
	"github.com/mcoot/cryptoquiz-go/internal/api/request"
	"github.com/mcoot/cryptoquiz-go/internal/api/response"
	"github.com/mcoot/cryptoquiz-go/internal/services/auth"
	"github.com/mcoot/cryptoquiz-go/internal/services/session"
)

// PlayerHandler handles player-related endpoints
type PlayerHandler struct {
	authService *auth.Service
	sessions    *session.Manager
}

// NewPlayerHandler creates a new player handler
func NewPlayerHandler(authService *auth.Service, sessions *session.Manager) *PlayerHandler {
	return &PlayerHandler{
		authService: authService,
		sessions:    sessions,
	}
}

// CreateGuest handles POST /api/v1/players/guest.
// A caller that already holds a valid session gets it back unchanged.
func (h *PlayerHandler) CreateGuest(w http.ResponseWriter, r *http.Request) {
	if s := middleware.GetSession(r.Context()); s != nil {
		response.JSON(w, http.StatusOK, response.AuthResponseFromSession(s))
		return
	}

	var req request.CreateGuestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	if req.DisplayName == "" {
		WriteError(w, NewInvalidRequestError("display_name is required"))
		return
	}

	s, err := h.authService.CreateGuestPlayer(r.Context(), req.DisplayName)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.AuthResponseFromSession(s))
}

// GetMe handles GET /api/v1/players/me
func (h *PlayerHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())
	response.JSON(w, http.StatusOK, response.PlayerFromModel(player))
}

// SignOut handles POST /api/v1/players/signout
func (h *PlayerHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if s := middleware.GetSession(r.Context()); s != nil {
		h.authService.SignOut(s.Token)
	}
	response.NoContent(w)
}

// LastScore handles GET /api/v1/players/me/last-score
func (h *PlayerHandler) LastScore(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	score, err := h.sessions.LastScore(r.Context(), player.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LastScore{Score: score})
}
