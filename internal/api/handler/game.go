package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/cryptoquiz-go/internal/api/middleware"
	"github.com/mcoot/cryptoquiz-go/internal/api/request"
	"github.com/mcoot/cryptoquiz-go/internal/api/response"
	"github.com/mcoot/cryptoquiz-go/internal/api/sse"
	"github.com/mcoot/cryptoquiz-go/internal/api/ws"
	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/session"
)

// GameHandler handles session endpoints
type GameHandler struct {
	sessions   *session.Manager
	hubManager *sse.HubManager
	streams    *ws.Manager
	logger     *slog.Logger
}

// NewGameHandler creates a new game handler. hubManager and streams may be
// nil, which disables the matching stream endpoint.
func NewGameHandler(
	sessions *session.Manager,
	hubManager *sse.HubManager,
	streams *ws.Manager,
	logger *slog.Logger,
) *GameHandler {
	return &GameHandler{
		sessions:   sessions,
		hubManager: hubManager,
		streams:    streams,
		logger:     logger,
	}
}

// Create handles POST /api/v1/games
func (h *GameHandler) Create(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	var req request.CreateGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	g, err := h.sessions.Create(r.Context(), *player, model.ScoringMode(req.ScoringMode))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.GameFromModel(g))
}

// Join handles POST /api/v1/games/join
func (h *GameHandler) Join(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	var req request.JoinGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	if req.Code == "" {
		WriteError(w, NewInvalidRequestError("code is required"))
		return
	}

	g, err := h.sessions.Join(r.Context(), model.GameCode(req.Code), *player)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GameFromModel(g))
}

// Leave handles POST /api/v1/games/leave
func (h *GameHandler) Leave(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	result, err := h.sessions.Leave(r.Context(), player.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LeaveResultFromLobby(result))
}

// Current handles GET /api/v1/games/current
func (h *GameHandler) Current(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	g, err := h.sessions.CurrentGame(r.Context(), player.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GameFromModel(g))
}

// Get handles GET /api/v1/games/{id}
func (h *GameHandler) Get(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())
	gameID := model.GameID(mux.Vars(r)["id"])

	snap, err := h.sessions.Snapshot(r.Context(), gameID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if _, err := h.sessions.Role(r.Context(), snap.Game, player.ID); err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.SnapshotFromSession(snap))
}

// Me handles GET /api/v1/games/{id}/me
func (h *GameHandler) Me(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())
	gameID := model.GameID(mux.Vars(r)["id"])

	state, err := h.sessions.PlayerState(r.Context(), gameID, player.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PlayerStateFromModel(state))
}

// Mutate handles POST /api/v1/games/{id}/mutations
func (h *GameHandler) Mutate(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())
	gameID := model.GameID(mux.Vars(r)["id"])

	var req request.MutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	if req.Type == "" {
		WriteError(w, NewInvalidRequestError("type is required"))
		return
	}

	choice := -1
	if req.Choice != nil {
		choice = *req.Choice
	}
	mut, err := model.ParseMutation(model.MutationKind(req.Type), choice)
	if err != nil {
		WriteError(w, err)
		return
	}

	result, err := h.sessions.Apply(r.Context(), gameID, player.ID, mut)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MutationResultFromSession(result))
}

// Events handles GET /api/v1/games/{id}/events (SSE)
func (h *GameHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.hubManager == nil {
		http.Error(w, "SSE not available", http.StatusServiceUnavailable)
		return
	}
	player := middleware.MustGetPlayer(r.Context())
	gameID := model.GameID(mux.Vars(r)["id"])

	if _, err := h.sessions.RoleIn(r.Context(), gameID, player.ID); err != nil {
		WriteError(w, err)
		return
	}

	hub := h.hubManager.GetOrCreateHub(gameID)
	sse.ServeSSE(w, r, hub, player.ID)
}

// Stream handles GET /api/v1/games/{id}/ws (WebSocket)
func (h *GameHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.streams == nil {
		http.Error(w, "WebSocket not available", http.StatusServiceUnavailable)
		return
	}
	player := middleware.MustGetPlayer(r.Context())
	gameID := model.GameID(mux.Vars(r)["id"])

	if _, err := h.sessions.RoleIn(r.Context(), gameID, player.ID); err != nil {
		WriteError(w, err)
		return
	}

	if err := h.streams.Serve(w, r, gameID, player.ID); err != nil {
		if errors.Is(err, ws.ErrClosed) {
			http.Error(w, "WebSocket not available", http.StatusServiceUnavailable)
			return
		}
		// The upgrader has already written the failure response
		h.logger.Warn("websocket stream refused",
			slog.String("game_id", string(gameID)),
			slog.String("player_id", string(player.ID)),
			slog.Any("error", err))
	}
}
