package model

import "errors"

// Common errors used across the application
var (
	// Player errors
	ErrPlayerNotFound = errors.New("player not found")

	// Game errors
	ErrGameNotFound         = errors.New("game not found")
	ErrGameUnavailable      = errors.New("game not found or already started")
	ErrAlreadyInGame        = errors.New("player is already in a game")
	ErrNotInGame            = errors.New("player is not in this game")
	ErrNotHost              = errors.New("player is not the host")
	ErrInvalidPhase         = errors.New("action not allowed in the current phase")
	ErrAnswerNotRevealed    = errors.New("answer has not been revealed")
	ErrVersionConflict      = errors.New("game was modified concurrently")
	ErrCodeGenerationFailed = errors.New("could not generate a unique game code")
	ErrGameCodeTaken        = errors.New("game code already in use")
	ErrSessionNotRunning    = errors.New("session is not running")
	ErrInvalidScoringMode   = errors.New("invalid scoring mode")

	// Mutation errors
	ErrRoleMismatch    = errors.New("mutation not permitted for this role")
	ErrUnknownMutation = errors.New("unknown mutation")
	ErrInvalidChoice   = errors.New("invalid answer choice")

	// Progress errors
	ErrProgressNotFound = errors.New("progress not found")
	ErrStaleProgress    = errors.New("progress is behind the stored row")

	// Key-value errors
	ErrKeyNotFound = errors.New("key not found")

	// Question bank errors
	ErrQuestionBankEmpty = errors.New("question bank is empty")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrInvalidQuestion   = errors.New("invalid question")
)
