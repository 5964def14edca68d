package handler

import (
	"net/http"

	"github.com/mcoot/cryptoquiz-go/internal/api/apierr"
)

// Re-export from apierr for convenience
type APIError = apierr.APIError
type ErrorResponse = apierr.ErrorResponse

// Re-export error codes
const (
	CodeInvalidRequest     = apierr.CodeInvalidRequest
	CodeUnauthorized       = apierr.CodeUnauthorized
	CodeGameNotFound       = apierr.CodeGameNotFound
	CodeNotInGame          = apierr.CodeNotInGame
	CodeRoleMismatch       = apierr.CodeRoleMismatch
	CodeInvalidPhase       = apierr.CodeInvalidPhase
	CodeInvalidChoice      = apierr.CodeInvalidChoice
	CodeUnknownMutation    = apierr.CodeUnknownMutation
	CodeInvalidScoringMode = apierr.CodeInvalidScoringMode
	CodeInternalError      = apierr.CodeInternalError
)

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	apierr.WriteError(w, err)
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return apierr.NewInvalidRequestError(message)
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return apierr.NewUnauthorizedError()
}
