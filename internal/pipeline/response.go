package pipeline

import (
	"time"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
)

// UserResponse is the public view of a message sender.
type UserResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	ProfileImage string `json:"profileImage,omitempty"`
}

// FileResponse is the public view of an attached file.
type FileResponse struct {
	FileURL     string    `json:"fileUrl"`
	FileName    string    `json:"fileName"`
	Mimetype    string    `json:"mimetype"`
	Size        int64     `json:"size"`
	Previewable bool      `json:"previewable"`
	User        string    `json:"user"`
	UploadDate  time.Time `json:"uploadDate"`
}

// MessageResponse is the payload of an outbound message event.
type MessageResponse struct {
	ID        string              `json:"id"`
	RoomID    string              `json:"roomId"`
	Content   string              `json:"content"`
	Type      models.MessageType  `json:"type"`
	Timestamp int64               `json:"timestamp"`
	Reactions map[string][]string `json:"reactions"`
	Sender    UserResponse        `json:"sender"`
	Metadata  map[string]any      `json:"metadata"`
	File      *FileResponse       `json:"file,omitempty"`
}

// NewUserResponse renders a user. A nil user renders as a placeholder.
func NewUserResponse(u *models.User) UserResponse {
	if u == nil {
		return UserResponse{Name: "unknown"}
	}
	return UserResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		ProfileImage: u.ProfileImage,
	}
}

// RenderMessage builds the wire shape of a saved message.
func RenderMessage(msg *models.Message, sender *models.User, files FileURLResolver) MessageResponse {
	resp := MessageResponse{
		ID:        msg.ID,
		RoomID:    msg.RoomID,
		Content:   msg.Content,
		Type:      msg.Type,
		Timestamp: msg.TimestampMillis(),
		Reactions: msg.Reactions,
		Sender:    NewUserResponse(sender),
		Metadata:  msg.Metadata,
	}
	if resp.Reactions == nil {
		resp.Reactions = map[string][]string{}
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	if msg.File != nil {
		resp.File = &FileResponse{
			FileURL:     files.PublicURL(msg.File.Key),
			FileName:    msg.File.OriginalName,
			Mimetype:    msg.File.MimeType,
			Size:        msg.File.Size,
			Previewable: msg.File.IsPreviewable(),
			User:        resp.Sender.Name,
			UploadDate:  msg.Timestamp,
		}
	}
	return resp
}
