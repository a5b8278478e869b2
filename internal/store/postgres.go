package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/crypto"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/metrics"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ DataStore = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observeQuery(start time.Time) {
	metrics.DatabaseLatency.Observe(time.Since(start).Seconds())
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	defer observeQuery(time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, email, password_hash, profile_image, created_at
	`, crypto.NewUUIDv7().String(), name, email, passwordHash).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.ProfileImage,
		&user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = $1`, email)
}

func (s *PostgresStore) getUser(ctx context.Context, where string, arg string) (*models.User, error) {
	defer observeQuery(time.Now())

	user := &models.User{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, password_hash, profile_image, created_at
		FROM users `+where, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.ProfileImage,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// CreateRoom creates a room with its initial participants.
func (s *PostgresStore) CreateRoom(ctx context.Context, name string, participantIDs []string) (*models.Room, error) {
	defer observeQuery(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	room := &models.Room{}
	err = tx.QueryRow(ctx, `
		INSERT INTO rooms (id, name) VALUES ($1, $2)
		RETURNING id, name, created_at
	`, crypto.NewUUIDv7().String(), name).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, userID := range participantIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, room.ID, userID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	room.ParticipantIDs = append([]string{}, participantIDs...)
	return room, nil
}

// GetRoom retrieves a room and its participants by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	defer observeQuery(time.Now())

	room := &models.Room{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, created_at FROM rooms WHERE id = $1
	`, id).Scan(&room.ID, &room.Name, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM room_participants WHERE room_id = $1 ORDER BY joined_at
	`, id)
	if err != nil {
		return nil, err
	}
	room.ParticipantIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return room, nil
}

// AddParticipant adds userID to the room. Adding an existing member is a no-op.
func (s *PostgresStore) AddParticipant(ctx context.Context, roomID, userID string) error {
	defer observeQuery(time.Now())

	_, err := s.pool.Exec(ctx, `
		INSERT INTO room_participants (room_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roomID, userID)
	return err
}

// SaveMessage inserts a message, assigning its ID and timestamp.
func (s *PostgresStore) SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	defer observeQuery(time.Now())

	saved := *msg
	prepareMessage(&saved)
	doc, err := encodeMessage(&saved)
	if err != nil {
		return nil, err
	}

	var file *string
	if doc.File != nil {
		f := string(doc.File)
		file = &f
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO messages (id, room_id, sender_id, type, content, file,
			mentions, reactions, readers, metadata, is_deleted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, saved.ID, saved.RoomID, saved.SenderID, string(saved.Type), saved.Content, file,
		string(doc.Mentions), string(doc.Reactions), string(doc.Readers), string(doc.Metadata),
		saved.IsDeleted, saved.Timestamp)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

const pgMessageColumns = `id, room_id, sender_id, type, content, file,
	mentions, reactions, readers, metadata, is_deleted, created_at`

func scanPgMessage(row pgx.Row) (*models.Message, error) {
	var (
		msg models.Message
		doc messageDoc
		typ string
	)
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&typ,
		&msg.Content,
		&doc.File,
		&doc.Mentions,
		&doc.Reactions,
		&doc.Readers,
		&doc.Metadata,
		&msg.IsDeleted,
		&msg.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	msg.Type = models.MessageType(typ)
	if err := decodeMessage(&msg, doc); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessage retrieves a message by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observeQuery(time.Now())

	msg, err := scanPgMessage(s.pool.QueryRow(ctx, `
		SELECT `+pgMessageColumns+` FROM messages WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ReactToMessage updates a message's reactions under a row lock.
func (s *PostgresStore) ReactToMessage(ctx context.Context, id string, change func(*models.Message) bool) (*models.Message, error) {
	defer observeQuery(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	msg, err := scanPgMessage(tx.QueryRow(ctx, `
		SELECT `+pgMessageColumns+` FROM messages WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !change(msg) {
		return msg, nil
	}

	reactions, err := json.Marshal(msg.Reactions)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `UPDATE messages SET reactions = $2 WHERE id = $1`, id, string(reactions)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListRoomMessages returns non-deleted messages older than before, newest first.
func (s *PostgresStore) ListRoomMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error) {
	defer observeQuery(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT `+pgMessageColumns+`
		FROM messages
		WHERE room_id = $1 AND is_deleted = FALSE AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, roomID, beforeOrNow(before), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanPgMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
