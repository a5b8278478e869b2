package pipeline

import (
	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
)

// draft is a message ready to be persisted. Each kind carries only its own fields.
type draft interface {
	messageType() models.MessageType
}

type textDraft struct {
	content Content
}

func (textDraft) messageType() models.MessageType { return models.MessageTypeText }

type fileDraft struct {
	content Content
	file    models.FileMetadata
}

func (fileDraft) messageType() models.MessageType { return models.MessageTypeFile }

// newDraft dispatches on the declared type. A nil draft with a nil error means
// there is nothing to send.
func newDraft(msgType string, content Content, data *FileData) (draft, error) {
	switch models.MessageType(msgType) {
	case models.MessageTypeText:
		if content.Empty() {
			return nil, nil
		}
		return textDraft{content: content}, nil

	case models.MessageTypeFile:
		if data == nil || data.Key == "" {
			return nil, fail(CodeMessageError, ReasonInvalidFileData, "invalid file data")
		}
		return fileDraft{
			content: content,
			file: models.FileMetadata{
				Key:          data.Key,
				OriginalName: data.OriginalName,
				MimeType:     data.Mimetype,
				Size:         data.Size,
			},
		}, nil

	default:
		return nil, fail(CodeMessageError, ReasonUnsupportedType, "unsupported message type: "+msgType)
	}
}

// build turns a draft into an unsaved message.
func build(d draft, roomID, senderID string) *models.Message {
	msg := &models.Message{
		RoomID:    roomID,
		SenderID:  senderID,
		Type:      d.messageType(),
		Reactions: map[string][]string{},
		Readers:   []models.MessageReader{},
		Metadata:  map[string]any{},
	}
	switch d := d.(type) {
	case textDraft:
		msg.Content = d.content.Text
		msg.Mentions = d.content.Mentions
	case fileDraft:
		file := d.file
		msg.Content = d.content.Text
		msg.Mentions = d.content.Mentions
		msg.File = &file
	}
	return msg
}
