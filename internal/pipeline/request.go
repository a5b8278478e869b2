package pipeline

import (
	"regexp"
	"strings"
)

// Socket event names.
const (
	EventChatMessage = "chatMessage"
	EventMessage     = "message"
	EventError       = "error"
)

// ChatMessageRequest is the payload of an inbound chatMessage event.
type ChatMessageRequest struct {
	Room     string    `json:"room"`
	Type     string    `json:"type"`
	Content  *string   `json:"content"`
	FileData *FileData `json:"fileData,omitempty"`
}

// FileData describes an already uploaded object referenced by a file message.
type FileData struct {
	Key          string `json:"key"`
	OriginalName string `json:"originalName"`
	Mimetype     string `json:"mimetype"`
	Size         int64  `json:"size"`
}

// MessageType returns the declared type, defaulting to text.
func (r *ChatMessageRequest) MessageType() string {
	if r.Type == "" {
		return "text"
	}
	return r.Type
}

// Identity is the authenticated user attached to a socket connection.
type Identity struct {
	UserID       string
	SessionToken string
}

var mentionRegex = regexp.MustCompile(`@([\p{L}\p{N}_.-]+)`)

// Content is the normalized text of a message.
type Content struct {
	Text     string   // trimmed, never nil
	Mentions []string // distinct @name targets in order of appearance
}

// ParseContent trims raw text and extracts mention targets.
func ParseContent(raw *string) Content {
	if raw == nil {
		return Content{Mentions: []string{}}
	}
	text := strings.TrimSpace(*raw)

	mentions := []string{}
	seen := make(map[string]bool)
	for _, m := range mentionRegex.FindAllStringSubmatch(text, -1) {
		name := strings.TrimRight(m[1], ".-")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		mentions = append(mentions, name)
	}
	return Content{Text: text, Mentions: mentions}
}

// Empty reports whether there is no text.
func (c Content) Empty() bool {
	return c.Text == ""
}
