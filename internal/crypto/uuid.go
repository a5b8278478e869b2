package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewUUIDv7 generates a time-ordered UUID v7.
func NewUUIDv7() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewToken returns a random 256-bit hex token for session credentials.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
