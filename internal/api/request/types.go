package request

// CreateGuestRequest is the request body for creating a guest player
type CreateGuestRequest struct {
	DisplayName string `json:"display_name"`
}

// CreateGameRequest is the request body for creating a game
type CreateGameRequest struct {
	ScoringMode string `json:"scoring_mode,omitempty"`
}

// JoinGameRequest is the request body for joining a game by code
type JoinGameRequest struct {
	Code string `json:"code"`
}

// MutationRequest is the request body for a game mutation.
// Choice is only read for answer submissions.
type MutationRequest struct {
	Type   string `json:"type"`
	Choice *int   `json:"choice,omitempty"`
}
