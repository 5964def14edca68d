package model

import "time"

// PlayerID uniquely identifies a player across the system
type PlayerID string

// Player is a participant profile (the user_profiles collection)
type Player struct {
	ID          PlayerID
	DisplayName string
	IsGuest     bool // true for unregistered players
	CreatedAt   time.Time
}
