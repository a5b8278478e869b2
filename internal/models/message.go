package models

import (
	"slices"
	"time"
)

// MessageType is the kind of a chat message.
type MessageType string

const (
	MessageTypeText MessageType = "text"
	MessageTypeFile MessageType = "file"
)

// Message represents a persisted chat message.
type Message struct {
	ID        string              `json:"id"` // ULID
	RoomID    string              `json:"room"`
	SenderID  string              `json:"sender"`
	Type      MessageType         `json:"type"`
	Content   string              `json:"content"`
	File      *FileMetadata       `json:"file,omitempty"` // set iff Type == file
	Mentions  []string            `json:"mentions"`
	Timestamp time.Time           `json:"timestamp"`
	Reactions map[string][]string `json:"reactions"`
	Readers   []MessageReader     `json:"readers"`
	Metadata  map[string]any      `json:"metadata"`
	IsDeleted bool                `json:"is_deleted"`
}

// MessageReader is a read receipt.
type MessageReader struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// TimestampMillis returns the creation time as unix milliseconds.
func (m *Message) TimestampMillis() int64 {
	return m.Timestamp.UnixMilli()
}

// AddReaction records userID under the reaction label.
// Returns false if the user had already reacted with it.
func (m *Message) AddReaction(reaction, userID string) bool {
	if m.Reactions == nil {
		m.Reactions = make(map[string][]string)
	}
	users := m.Reactions[reaction]
	i, found := slices.BinarySearch(users, userID)
	if found {
		return false
	}
	m.Reactions[reaction] = slices.Insert(users, i, userID)
	return true
}

// RemoveReaction removes userID from the reaction label, dropping the label
// once nobody is left on it.
func (m *Message) RemoveReaction(reaction, userID string) bool {
	users, ok := m.Reactions[reaction]
	if !ok {
		return false
	}
	i, found := slices.BinarySearch(users, userID)
	if !found {
		return false
	}
	users = slices.Delete(users, i, i+1)
	if len(users) == 0 {
		delete(m.Reactions, reaction)
	} else {
		m.Reactions[reaction] = users
	}
	return true
}

// FileMetadata describes an uploaded object attached to a file message.
type FileMetadata struct {
	Key          string `json:"key"` // object storage key
	OriginalName string `json:"original_name"`
	MimeType     string `json:"mimetype"`
	Size         int64  `json:"size"`
}

var previewableTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp",
	"video/mp4", "video/webm",
	"audio/mpeg", "audio/wav",
	"application/pdf",
}

// IsPreviewable reports whether clients can render the file inline.
func (f *FileMetadata) IsPreviewable() bool {
	return slices.Contains(previewableTypes, f.MimeType)
}
