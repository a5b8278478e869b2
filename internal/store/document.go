package store

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2025tf20/KTB-LoadTest-team-20/internal/models"
)

const maxPageSize = 200

// messageDoc holds the embedded parts of a message as JSON columns.
type messageDoc struct {
	File      []byte
	Mentions  []byte
	Reactions []byte
	Readers   []byte
	Metadata  []byte
}

// prepareMessage assigns the id and timestamp of a new message and
// normalizes nil collections.
func prepareMessage(msg *models.Message) {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC().Truncate(time.Millisecond)
	}
	if msg.Mentions == nil {
		msg.Mentions = []string{}
	}
	if msg.Reactions == nil {
		msg.Reactions = map[string][]string{}
	}
	if msg.Readers == nil {
		msg.Readers = []models.MessageReader{}
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
}

func encodeMessage(msg *models.Message) (messageDoc, error) {
	var (
		doc messageDoc
		err error
	)
	if msg.File != nil {
		if doc.File, err = json.Marshal(msg.File); err != nil {
			return doc, err
		}
	}
	if doc.Mentions, err = json.Marshal(msg.Mentions); err != nil {
		return doc, err
	}
	if doc.Reactions, err = json.Marshal(msg.Reactions); err != nil {
		return doc, err
	}
	if doc.Readers, err = json.Marshal(msg.Readers); err != nil {
		return doc, err
	}
	if doc.Metadata, err = json.Marshal(msg.Metadata); err != nil {
		return doc, err
	}
	return doc, nil
}

func decodeMessage(msg *models.Message, doc messageDoc) error {
	if len(doc.File) > 0 && string(doc.File) != "null" {
		msg.File = &models.FileMetadata{}
		if err := json.Unmarshal(doc.File, msg.File); err != nil {
			return err
		}
	}
	for _, part := range []struct {
		data []byte
		dst  any
	}{
		{doc.Mentions, &msg.Mentions},
		{doc.Reactions, &msg.Reactions},
		{doc.Readers, &msg.Readers},
		{doc.Metadata, &msg.Metadata},
	} {
		if len(part.data) == 0 {
			continue
		}
		if err := json.Unmarshal(part.data, part.dst); err != nil {
			return err
		}
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// beforeOrNow treats a zero cursor as "latest".
func beforeOrNow(before time.Time) time.Time {
	if before.IsZero() {
		return time.Now().Add(time.Minute).UTC()
	}
	return before.UTC()
}
