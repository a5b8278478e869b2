package store

import (
	"context"
	"errors"
	"time"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
)

// ErrDuplicate is returned when a unique field (such as an email) is taken.
var ErrDuplicate = errors.New("store: duplicate entry")

// DataStore defines the interface for persistent storage of users, rooms and messages.
// Both PostgresStore and SQLiteStore implement this interface.
// Lookups return (nil, nil) when the entity does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// Room operations
	CreateRoom(ctx context.Context, name string, participantIDs []string) (*models.Room, error)
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	AddParticipant(ctx context.Context, roomID, userID string) error

	// Message operations
	SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ListRoomMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error)
	// ReactToMessage applies change to the stored message inside a
	// transaction and persists its reactions when change returns true.
	// It returns (nil, nil) for an unknown message.
	ReactToMessage(ctx context.Context, id string, change func(*models.Message) bool) (*models.Message, error)
}

// KV is the key/value store shared by every node. Values round-trip
// through JSON. There are no cross-key transactions; Incr and Update are
// atomic for their single key.
type KV interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Size(ctx context.Context) (int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Update decodes key into dst and calls fn with whether it was found.
	// If fn returns true, dst is written back with ttl, but only when key
	// is unchanged since the read; otherwise the read and fn are retried.
	Update(ctx context.Context, key string, dst any, ttl time.Duration, fn func(found bool) (bool, error)) error
}

// ErrConflict is returned when an Update keeps losing to concurrent writers.
var ErrConflict = errors.New("store: concurrent update conflict")
