package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/cryptoquiz-go/internal/model"
	"github.com/mcoot/cryptoquiz-go/internal/services/auth"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInvalidDisplayName   = "INVALID_DISPLAY_NAME"
	CodePlayerNotFound       = "PLAYER_NOT_FOUND"
	CodeGameNotFound         = "GAME_NOT_FOUND"
	CodeGameUnavailable      = "GAME_UNAVAILABLE"
	CodeAlreadyInGame        = "ALREADY_IN_GAME"
	CodeNotInGame            = "NOT_IN_GAME"
	CodeNotHost              = "NOT_HOST"
	CodeRoleMismatch         = "ROLE_MISMATCH"
	CodeInvalidPhase         = "INVALID_PHASE"
	CodeAnswerNotRevealed    = "ANSWER_NOT_REVEALED"
	CodeInvalidChoice        = "INVALID_CHOICE"
	CodeUnknownMutation      = "UNKNOWN_MUTATION"
	CodeVersionConflict      = "VERSION_CONFLICT"
	CodeCodeGenerationFailed = "CODE_GENERATION_FAILED"
	CodeSessionNotRunning    = "SESSION_NOT_RUNNING"
	CodeKeyNotFound          = "KEY_NOT_FOUND"
	CodeInvalidScoringMode   = "INVALID_SCORING_MODE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	status, apiErr := FromError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: apiErr})
}

// FromError returns the HTTP status and API error an error maps to
func FromError(err error) (int, APIError) {
	he := toHTTPError(err)
	return he.status, he.apiError
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	// Map model errors
	switch {
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{http.StatusNotFound, APIError{CodePlayerNotFound, "Player not found"}}
	case errors.Is(err, model.ErrGameNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeGameNotFound, "Game not found"}}
	case errors.Is(err, model.ErrGameUnavailable):
		return &httpError{http.StatusNotFound, APIError{CodeGameUnavailable, "Game not found or already started"}}
	case errors.Is(err, model.ErrAlreadyInGame):
		return &httpError{http.StatusConflict, APIError{CodeAlreadyInGame, "Already in a game"}}
	case errors.Is(err, model.ErrNotInGame):
		return &httpError{http.StatusForbidden, APIError{CodeNotInGame, "Not in this game"}}
	case errors.Is(err, model.ErrNotHost):
		return &httpError{http.StatusForbidden, APIError{CodeNotHost, "Only the host can perform this action"}}
	case errors.Is(err, model.ErrRoleMismatch):
		return &httpError{http.StatusForbidden, APIError{CodeRoleMismatch, "Action not permitted for your role"}}
	case errors.Is(err, model.ErrInvalidPhase):
		return &httpError{http.StatusConflict, APIError{CodeInvalidPhase, "Action not allowed in the current phase"}}
	case errors.Is(err, model.ErrAnswerNotRevealed):
		return &httpError{http.StatusConflict, APIError{CodeAnswerNotRevealed, "Answer has not been revealed"}}
	case errors.Is(err, model.ErrInvalidChoice):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidChoice, "Invalid answer choice"}}
	case errors.Is(err, model.ErrUnknownMutation):
		return &httpError{http.StatusBadRequest, APIError{CodeUnknownMutation, "Unknown mutation"}}
	case errors.Is(err, model.ErrInvalidScoringMode):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidScoringMode, "Scoring mode must be flat or timed"}}
	case errors.Is(err, model.ErrVersionConflict):
		return &httpError{http.StatusConflict, APIError{CodeVersionConflict, "Game was modified concurrently"}}
	case errors.Is(err, model.ErrCodeGenerationFailed):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeCodeGenerationFailed, "Could not generate a game code"}}
	case errors.Is(err, model.ErrSessionNotRunning):
		return &httpError{http.StatusConflict, APIError{CodeSessionNotRunning, "Session is not running"}}
	case errors.Is(err, model.ErrKeyNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeKeyNotFound, "Not found"}}

	// Map auth errors
	case errors.Is(err, auth.ErrInvalidSession):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Invalid or expired session"}}
	case errors.Is(err, auth.ErrDisplayNameInvalid):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidDisplayName, "Display name must be 1-32 characters"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
