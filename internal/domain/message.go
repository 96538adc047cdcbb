package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is a committed line of conversation. Messages are never edited
// after they are appended to a node.
type Message struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	SpeakerID   string `json:"speakerId,omitempty"`
	SpeakerName string `json:"speakerName,omitempty"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp"` // epoch ms
}

// NewMessage builds a message with a fresh id and the current timestamp.
func NewMessage(role Role, speakerID, content string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		SpeakerID: speakerID,
		Content:   content,
		Timestamp: NowMillis(),
	}
}

// NowMillis returns the current time in epoch milliseconds. Tests replace it
// to get deterministic timestamps.
var NowMillis = func() int64 {
	return time.Now().UnixMilli()
}
