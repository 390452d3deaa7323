// Package session holds the bounded, per-participant conversation state
// shared by the normalizer and the response orchestrator.
package session

import (
	"fmt"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an immutable record of one chat message. Two messages are the
// same message when their MessageID matches; content is not part of identity.
type Message struct {
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	MessageID       string    `json:"message_id"`
	TargetMessageID string    `json:"target_message_id,omitempty"`
}

// Same reports whether m and other refer to the same platform message.
func (m Message) Same(other Message) bool {
	return m.MessageID == other.MessageID
}

// Before orders messages chronologically.
func (m Message) Before(other Message) bool {
	return m.Timestamp.Before(other.Timestamp)
}

func (m Message) String() string {
	content := m.Content
	if r := []rune(content); len(r) > 250 {
		content = string(r[:250])
	}
	return fmt.Sprintf("%s - %s - %s - %s", m.Timestamp.Format(time.RFC3339), m.MessageID, m.Role, content)
}
