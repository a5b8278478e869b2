package models

import "time"

// SessionRecord is the single active login of a user, shared by all nodes.
type SessionRecord struct {
	UserID       string    `json:"user_id"`
	Token        string    `json:"token"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// RateLimitWindow is the counter state of one fixed window.
type RateLimitWindow struct {
	Key         string    `json:"key"`
	WindowStart time.Time `json:"window_start"`
	Count       int64     `json:"count"`
}
