package models

import (
	"slices"
	"time"
)

// Room represents a chat room and its participants.
type Room struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ParticipantIDs []string  `json:"participants"`
	CreatedAt      time.Time `json:"created_at"`
}

// HasParticipant reports whether userID is a current member of the room.
func (r *Room) HasParticipant(userID string) bool {
	return slices.Contains(r.ParticipantIDs, userID)
}
