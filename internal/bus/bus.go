// Package bus provides the typed in-process queues that connect chat
// channels to the agent supervisor.
package bus

import (
	"context"
	"time"
)

// Attachment is a file attached to an inbound platform message.
type Attachment struct {
	URL         string `json:"url"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// IsImage reports whether the attachment carries an image payload.
func (a Attachment) IsImage() bool {
	return len(a.ContentType) >= 6 && a.ContentType[:6] == "image/"
}

// ReplyRef points at the message an inbound message replies to.
type ReplyRef struct {
	MessageID string `json:"message_id"`
	AuthorID  string `json:"author_id"`
}

// InboundMessage is a raw platform event before normalization.
type InboundMessage struct {
	Channel           string       `json:"channel"`
	ChannelID         string       `json:"channel_id"`
	MessageID         string       `json:"message_id"`
	AuthorID          string       `json:"author_id"`
	AuthorName        string       `json:"author_name"`
	Content           string       `json:"content"`
	ReplyTo           *ReplyRef    `json:"reply_to,omitempty"`
	MentionsAssistant bool         `json:"mentions_assistant"`
	MentionedUserIDs  []string     `json:"mentioned_user_ids,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	Timestamp         time.Time    `json:"timestamp"`
	// Backfill marks history replayed at startup; it never triggers a reply.
	Backfill bool `json:"backfill,omitempty"`
}

// ReplyTargetID returns the id of the replied-to message, if any.
func (m *InboundMessage) ReplyTargetID() string {
	if m.ReplyTo == nil {
		return ""
	}
	return m.ReplyTo.MessageID
}

// ReactionEvent is emitted when someone reacts to a message.
type ReactionEvent struct {
	Channel         string    `json:"channel"`
	ChannelID       string    `json:"channel_id"`
	MessageID       string    `json:"message_id"`
	MessageAuthorID string    `json:"message_author_id"`
	UserID          string    `json:"user_id"`
	Emoji           string    `json:"emoji"`
	Timestamp       time.Time `json:"timestamp"`
}

// DeletionEvent is emitted when a platform message is deleted.
type DeletionEvent struct {
	Channel   string    `json:"channel"`
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageBus decouples channels from the agent supervisor.
type MessageBus struct {
	inbound   chan *InboundMessage
	reactions chan *ReactionEvent
	deletions chan *DeletionEvent
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:   make(chan *InboundMessage, 100),
		reactions: make(chan *ReactionEvent, 32),
		deletions: make(chan *DeletionEvent, 32),
	}
}

// PublishInbound sends a message from a channel to the supervisor.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishReaction sends a reaction event to the supervisor.
func (b *MessageBus) PublishReaction(ev *ReactionEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.reactions <- ev
}

// ConsumeReaction blocks until a reaction is available or context is cancelled.
func (b *MessageBus) ConsumeReaction(ctx context.Context) (*ReactionEvent, error) {
	select {
	case ev := <-b.reactions:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishDeletion sends a deletion event to the supervisor.
func (b *MessageBus) PublishDeletion(ev *DeletionEvent) {
	b.deletions <- ev
}

// ConsumeDeletion blocks until a deletion is available or context is cancelled.
func (b *MessageBus) ConsumeDeletion(ctx context.Context) (*DeletionEvent, error) {
	select {
	case ev := <-b.deletions:
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}
