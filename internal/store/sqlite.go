package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/crypto"
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
)

// SQLiteStore handles SQLite database operations.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

var _ DataStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chat.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chat.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		profile_image TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS room_participants (
		room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL DEFAULT '',
		file TEXT,
		mentions TEXT NOT NULL DEFAULT '[]',
		reactions TEXT NOT NULL DEFAULT '{}',
		readers TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		is_deleted INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, is_deleted, created_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isSQLiteUnique(err error) bool {
	var sqlErr sqlite3.Error
	return errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error) {
	defer observeQuery(time.Now())

	user := &models.User{
		ID:           crypto.NewUUIDv7().String(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.CreatedAt.UnixMilli())
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `WHERE id = ?`, id)
}

// GetUserByEmail retrieves a user by email.
func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `WHERE email = ?`, email)
}

func (s *SQLiteStore) getUser(ctx context.Context, where string, arg string) (*models.User, error) {
	defer observeQuery(time.Now())

	user := &models.User{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, profile_image, created_at
		FROM users `+where, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.ProfileImage,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	user.CreatedAt = time.UnixMilli(createdAt).UTC()
	return user, nil
}

// CreateRoom creates a room with its initial participants.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name string, participantIDs []string) (*models.Room, error) {
	defer observeQuery(time.Now())

	room := &models.Room{
		ID:             crypto.NewUUIDv7().String(),
		Name:           name,
		ParticipantIDs: append([]string{}, participantIDs...),
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)
	`, room.ID, room.Name, room.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}

	for i, userID := range participantIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at) VALUES (?, ?, ?)
		`, room.ID, userID, room.CreatedAt.UnixMilli()+int64(i)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room and its participants by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	defer observeQuery(time.Now())

	room := &models.Room{}
	var createdAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at FROM rooms WHERE id = ?
	`, id).Scan(&room.ID, &room.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	room.CreatedAt = time.UnixMilli(createdAt).UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM room_participants WHERE room_id = ? ORDER BY joined_at
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	room.ParticipantIDs = []string{}
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		room.ParticipantIDs = append(room.ParticipantIDs, userID)
	}
	return room, rows.Err()
}

// AddParticipant adds userID to the room. Adding an existing member is a no-op.
func (s *SQLiteStore) AddParticipant(ctx context.Context, roomID, userID string) error {
	defer observeQuery(time.Now())

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at) VALUES (?, ?, ?)
	`, roomID, userID, time.Now().UnixMilli())
	return err
}

// SaveMessage inserts a message, assigning its ID and timestamp.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, type, content, file,
			mentions, reactions, readers, metadata, is_deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, saved.ID, saved.RoomID, saved.SenderID, string(saved.Type), saved.Content, file,
		string(doc.Mentions), string(doc.Reactions), string(doc.Readers), string(doc.Metadata),
		saved.IsDeleted, saved.Timestamp.UnixMilli())
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

const sqliteMessageColumns = `id, room_id, sender_id, type, content, file,
	mentions, reactions, readers, metadata, is_deleted, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	var (
		msg       models.Message
		typ       string
		file      sql.NullString
		mentions  string
		reactions string
		readers   string
		metadata  string
		createdAt int64
	)
	err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.SenderID,
		&typ,
		&msg.Content,
		&file,
		&mentions,
		&reactions,
		&readers,
		&metadata,
		&msg.IsDeleted,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Type = models.MessageType(typ)
	msg.Timestamp = time.UnixMilli(createdAt).UTC()

	doc := messageDoc{
		Mentions:  []byte(mentions),
		Reactions: []byte(reactions),
		Readers:   []byte(readers),
		Metadata:  []byte(metadata),
	}
	if file.Valid {
		doc.File = []byte(file.String)
	}
	if err := decodeMessage(&msg, doc); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	defer observeQuery(time.Now())

	msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// ReactToMessage updates a message's reactions inside a write transaction.
func (s *SQLiteStore) ReactToMessage(ctx context.Context, id string, change func(*models.Message) bool) (*models.Message, error) {
	defer observeQuery(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// Take the write lock before reading so concurrent reactions serialize.
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET reactions = reactions WHERE id = ?`, id); err != nil {
		return nil, err
	}

	msg, err := scanSQLiteMessage(tx.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET reactions = ? WHERE id = ?`, string(reactions), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ListRoomMessages returns non-deleted messages older than before, newest first.
func (s *SQLiteStore) ListRoomMessages(ctx context.Context, roomID string, before time.Time, limit int) ([]models.Message, error) {
	defer observeQuery(time.Now())

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteMessageColumns+`
		FROM messages
		WHERE room_id = ? AND is_deleted = 0 AND created_at < ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, roomID, beforeOrNow(before).UnixMilli(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}
