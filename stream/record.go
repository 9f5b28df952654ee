package stream

import (
	"encoding/json"
	"fmt"
)

// Record is one decoded response record.
type Record struct {
	Message        *Message `json:"message"`
	ConversationID string   `json:"conversation_id"`
}

// Message is the assistant message carried by a record.
type Message struct {
	ID      string  `json:"id"`
	Author  Author  `json:"author"`
	Content Content `json:"content"`
}

// Author identifies who produced a message.
type Author struct {
	Role string `json:"role"`
}

// Content holds the message body. Parts[0] is the cumulative text.
type Content struct {
	ContentType string `json:"content_type"`
	Parts       []any  `json:"parts"`
}

// ParseRecord decodes a single JSON record.
func ParseRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	return &rec, nil
}

// Text returns the cumulative answer text, or "" when the record has
// no textual first part.
func (r *Record) Text() string {
	if r == nil || r.Message == nil || len(r.Message.Content.Parts) == 0 {
		return ""
	}
	s, _ := r.Message.Content.Parts[0].(string)
	return s
}

// MessageID returns the produced message id, or "".
func (r *Record) MessageID() string {
	if r == nil || r.Message == nil {
		return ""
	}
	return r.Message.ID
}
